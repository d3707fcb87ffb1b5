package main

import (
	"fmt"
	"image"
	_ "image/png"
	"os"

	"midiboy/internal/convert"
	"midiboy/internal/input"
	appLog "midiboy/internal/log"
	"midiboy/internal/screen"
	"midiboy/internal/sh1106"
)

const (
	scrollStep   = 8
	contrastStep = 0x10
)

// app owns the display and reacts to button events on the tick goroutine.
type app struct {
	dev    *sh1106.Dev
	input  *input.Manager
	last   string
	splash bool // splash image still on screen
}

func newApp(dev *sh1106.Dev, m *input.Manager) *app {
	return &app{dev: dev, input: m, last: "-"}
}

// showSplash packs the PNG at path and draws it over the whole panel. It
// stays up until the first button event.
func (a *app) showSplash(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("splash: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("splash: decode %s: %w", path, err)
	}
	pages, err := convert.PackPages(img)
	if err != nil {
		return fmt.Errorf("splash: %w", err)
	}
	for p, cols := range pages {
		if err := a.dev.SetPosition(0, uint8(p)); err != nil {
			return err
		}
		if err := a.dev.DrawBitmap(cols, false); err != nil {
			return err
		}
	}
	a.splash = true
	return nil
}

func (a *app) lines() []string {
	return []string{
		"midiboy",
		"last " + a.last,
		fmt.Sprintf("scr %d c %d", a.dev.Scroll(), a.dev.Contrast()),
	}
}

// redraw clears the panel and draws the home screen.
func (a *app) redraw() error {
	if err := a.dev.Clear(); err != nil {
		return err
	}
	if err := screen.DrawText(a.dev, a.lines()...); err != nil {
		return err
	}
	return a.drawStatus()
}

func (a *app) drawStatus() error {
	return screen.DrawStatus(a.dev, a.input.Pressed)
}

// tick samples the buttons once and handles every queued event.
func (a *app) tick() error {
	if err := a.input.Update(); err != nil {
		return err
	}
	handled := false
	for {
		e, ok := a.input.Pop()
		if !ok {
			break
		}
		appLog.Debug("button event", "event", e)
		if err := a.handle(e); err != nil {
			return err
		}
		handled = true
	}
	if handled {
		return a.drawStatus()
	}
	return nil
}

func (a *app) handle(e input.Event) error {
	a.last = e.String()
	if a.splash {
		a.splash = false
		return a.redraw()
	}
	if e.Kind != input.Down {
		return nil
	}

	switch e.Button {
	case input.ButtonUp:
		return a.dev.AddScroll(-scrollStep)
	case input.ButtonDown:
		return a.dev.AddScroll(scrollStep)
	case input.ButtonLeft:
		return a.setContrast(-contrastStep)
	case input.ButtonRight:
		return a.setContrast(contrastStep)
	case input.ButtonA:
		return screen.DrawText(a.dev, a.lines()...)
	case input.ButtonB:
		return a.redraw()
	}
	return nil
}

func (a *app) setContrast(delta int) error {
	v := int(a.dev.Contrast()) + delta
	if v < 0 {
		v = 0
	}
	if v > 0xFF {
		v = 0xFF
	}
	return a.dev.SetContrast(byte(v))
}
