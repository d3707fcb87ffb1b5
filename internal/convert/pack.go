package convert

import (
	"fmt"
	"image"
	"image/color"
)

// Panel geometry (SH1106, 128x64, 8 pages of 8 rows).
const (
	PanelWidth  = 128
	PanelHeight = 64
	PageRows    = 8
	PanelPages  = PanelHeight / PageRows
)

// PackPage converts one 8-row strip of img into column bytes suitable for
// sh1106.Dev.DrawBitmap.
//
// Packing rules:
//
//   - the strip covers rows page*8 .. page*8+7 relative to img.Bounds().Min
//   - one byte per column, bit 0 = top row of the strip
//   - a bit is set when the pixel is lit (see isLit); rows past the image
//     bottom stay clear
//
// The returned slice has img.Bounds().Dx() bytes.
func PackPage(img image.Image, page int) ([]byte, error) {
	b := img.Bounds()
	if page < 0 || page*PageRows >= b.Dy() {
		return nil, fmt.Errorf("convert: page %d outside image height %d", page, b.Dy())
	}

	out := make([]byte, b.Dx())
	top := b.Min.Y + page*PageRows
	for x := 0; x < b.Dx(); x++ {
		var col byte
		for row := 0; row < PageRows; row++ {
			y := top + row
			if y >= b.Max.Y {
				break
			}
			if isLit(img.At(b.Min.X+x, y)) {
				col |= 1 << row
			}
		}
		out[x] = col
	}
	return out, nil
}

// PackPages packs every page of img. img must be at most PanelWidth wide and
// PanelHeight tall.
func PackPages(img image.Image) ([][]byte, error) {
	b := img.Bounds()
	if b.Dx() > PanelWidth || b.Dy() > PanelHeight {
		return nil, fmt.Errorf("convert: image %dx%d larger than panel %dx%d", b.Dx(), b.Dy(), PanelWidth, PanelHeight)
	}
	pages := (b.Dy() + PageRows - 1) / PageRows
	out := make([][]byte, 0, pages)
	for p := 0; p < pages; p++ {
		cols, err := PackPage(img, p)
		if err != nil {
			return nil, err
		}
		out = append(out, cols)
	}
	return out, nil
}

// isLit decides whether a pixel lights up on the monochrome panel.
//
// Rules (empirical):
//
//   - transparent (alpha < 128) → off
//   - luma Y = 0.299R + 0.587G + 0.114B
//   - Y >= 128 → lit
func isLit(c color.Color) bool {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.A < 128 {
		return false
	}
	y := 0.299*float64(n.R) + 0.587*float64(n.G) + 0.114*float64(n.B)
	return y >= 128
}
