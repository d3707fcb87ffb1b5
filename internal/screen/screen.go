// Package screen draws the daemon's idle screen: a few lines of text at the
// top and a strip with one cell per button on the bottom page.
package screen

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"midiboy/internal/convert"
	"midiboy/internal/input"
)

// Layout on the 128x64 panel.
const (
	LineHeight = 16 // two pages per text line
	MaxLines   = 3
	StatusPage = 7
	CellWidth  = 8
	GlyphWidth = 5
)

// Display is the drawing surface of sh1106.Dev.
type Display interface {
	SetPosition(x, y uint8) error
	DrawSpace(n int, inverse bool) error
	DrawBitmap(data []byte, inverse bool) error
	DrawBitmapAt(r io.ReaderAt, off int64, n int, inverse bool) error
}

// glyphTable holds 5x7 column glyphs in input.Buttons order: A, B, up, down,
// left, right. Bit 0 is the top row.
var glyphTable = []byte{
	0x7E, 0x11, 0x11, 0x11, 0x7E, // A
	0x7F, 0x49, 0x49, 0x49, 0x36, // B
	0x04, 0x02, 0x7F, 0x02, 0x04, // up
	0x10, 0x20, 0x7F, 0x20, 0x10, // down
	0x08, 0x1C, 0x2A, 0x08, 0x08, // left
	0x08, 0x08, 0x2A, 0x1C, 0x08, // right
}

// Glyphs is the read-only button glyph store used by DrawStatus.
var Glyphs io.ReaderAt = bytes.NewReader(glyphTable)

// GlyphOffset returns the offset of b's glyph in Glyphs.
func GlyphOffset(b input.Button) (int64, error) {
	for i, known := range input.Buttons {
		if known == b {
			return int64(i * GlyphWidth), nil
		}
	}
	return 0, fmt.Errorf("screen: no glyph for %s", b)
}

// Render draws lines with the 7x13 bitmap face, one line per LineHeight
// rows. Text past the right edge is clipped.
func Render(lines ...string) *image.Gray {
	if len(lines) > MaxLines {
		lines = lines[:MaxLines]
	}
	img := image.NewGray(image.Rect(0, 0, convert.PanelWidth, len(lines)*LineHeight))
	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	ascent := basicfont.Face7x13.Metrics().Ascent
	for i, line := range lines {
		d.Dot = fixed.Point26_6{X: fixed.I(1), Y: fixed.I(i*LineHeight+1) + ascent}
		d.DrawString(line)
	}
	return img
}

// DrawText renders lines and writes them to the top pages of d.
func DrawText(d Display, lines ...string) error {
	pages, err := convert.PackPages(Render(lines...))
	if err != nil {
		return err
	}
	for p, cols := range pages {
		if err := d.SetPosition(0, uint8(p)); err != nil {
			return err
		}
		if err := d.DrawBitmap(cols, false); err != nil {
			return err
		}
	}
	return nil
}

// DrawStatus writes one cell per button to the status page. A pressed
// button's cell is drawn inverted.
func DrawStatus(d Display, pressed func(input.Button) bool) error {
	for i, b := range input.Buttons {
		inv := pressed(b)
		off, err := GlyphOffset(b)
		if err != nil {
			return err
		}
		if err := d.SetPosition(uint8(i*CellWidth), StatusPage); err != nil {
			return err
		}
		if err := d.DrawSpace(1, inv); err != nil {
			return err
		}
		if err := d.DrawBitmapAt(Glyphs, off, GlyphWidth, inv); err != nil {
			return err
		}
		if err := d.DrawSpace(CellWidth-1-GlyphWidth, inv); err != nil {
			return err
		}
	}
	return nil
}
