package sh1106

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	appLog "midiboy/internal/log"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Panel geometry.
const (
	Width        = 128
	Height       = 64
	Pages        = Height / 8
	RAMColumns   = 132
	ColumnOffset = 2
)

// Bus parameters: 10MHz, mode 0, MSB first.
const (
	Frequency = 10 * physic.MegaHertz
	Mode      = spi.Mode0
)

// Command bytes.
const (
	cmdSetLowColumn   = 0x00
	cmdSetHighColumn  = 0x10
	cmdSetStartLine   = 0x40
	cmdSetContrast    = 0x81
	cmdSegmentRemap   = 0xA0
	cmdAllPixelsOn    = 0xA4
	cmdInverseDisplay = 0xA6
	cmdDisplayOff     = 0xAE
	cmdSetPage        = 0xB0
	cmdComScanInc     = 0xC0
	cmdComScanDecFlag = 0x08
	cmdNop            = 0xE3
	scrollMask        = 0x3F
	pageMask          = 0x07
	resetPulse        = time.Millisecond
	resetSettle       = 5 * time.Millisecond
	maxContrast       = 0xFF
)

func boolBit(on bool) byte {
	if on {
		return 1
	}
	return 0
}

func scrollLine(line uint8) byte { return cmdSetStartLine | line&scrollMask }

func columnAddress(addr uint8) []byte {
	return []byte{cmdSetLowColumn | addr&0x0F, cmdSetHighColumn | addr>>4}
}

func pageAddress(addr uint8) byte { return cmdSetPage | addr&pageMask }

func displayEnable(on bool) byte { return cmdDisplayOff | boolBit(on) }

func mirrorX(on bool) byte { return cmdSegmentRemap | boolBit(on) }

func mirrorY(on bool) byte {
	if on {
		return cmdComScanInc | cmdComScanDecFlag
	}
	return cmdComScanInc
}

// Dev is a handle to an SH1106 controller.
type Dev struct {
	c   spi.Conn
	cs  gpio.PinOut // nil when the SPI port drives chip-select itself
	dc  gpio.PinOut
	rst gpio.PinOut // optional
	max int         // largest single Tx, 0 if unlimited

	mu       sync.Mutex
	scroll   uint8
	contrast byte
	on       bool
	scratch  []byte
}

// New connects to the controller on p, configures cs, dc and rst as outputs
// and runs Reset.
//
// When cs is non-nil the port is opened with spi.NoCS and chip-select is
// driven by this package. When cs is nil the port pulses chip-select per Tx,
// so a transaction that switches DC or exceeds MaxTxSize spans several CS
// frames. rst may be nil if the reset line is not wired; the controller then
// relies on its power-on reset.
func New(p spi.Port, cs, dc, rst gpio.PinOut) (*Dev, error) {
	if dc == nil {
		return nil, errors.New("sh1106: dc pin is required")
	}
	mode := Mode
	if cs != nil {
		mode |= spi.NoCS
	}
	c, err := p.Connect(Frequency, mode, 8)
	if err != nil {
		return nil, fmt.Errorf("sh1106: connect %s: %w", p, err)
	}

	d := &Dev{c: c, cs: cs, dc: dc, rst: rst, scratch: make([]byte, 0, Width+8)}
	if l, ok := c.(conn.Limits); ok {
		d.max = l.MaxTxSize()
	}

	if cs != nil {
		if err := cs.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("sh1106: cs pin %s: %w", cs, err)
		}
	}
	if err := dc.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("sh1106: dc pin %s: %w", dc, err)
	}
	if rst != nil {
		if err := rst.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("sh1106: reset pin %s: %w", rst, err)
		}
	}

	appLog.Info("sh1106 connected", "conn", c, "hz", Frequency)
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset pulses the reset line, restores the register defaults this package
// relies on and blanks the display RAM. Output stays off until the RAM is
// clear.
func (d *Dev) Reset() error {
	if d.rst != nil {
		if err := d.rst.Out(gpio.Low); err != nil {
			return fmt.Errorf("sh1106: failed to pull RST low: %w", err)
		}
		time.Sleep(resetPulse)
		if err := d.rst.Out(gpio.High); err != nil {
			return fmt.Errorf("sh1106: failed to pull RST high: %w", err)
		}
		time.Sleep(resetSettle)
	}

	err := d.transact(func(t *txn) {
		t.onCommit(func() {
			d.scroll = 0
			d.contrast = maxContrast
			d.on = false
		})
		t.command(
			displayEnable(false),
			scrollLine(0),
			mirrorX(true),
			mirrorY(false),
			cmdSetContrast, maxContrast,
		)
	})
	if err != nil {
		return err
	}
	if err := d.Clear(); err != nil {
		return err
	}
	if err := d.Enable(true); err != nil {
		return err
	}
	appLog.Info("sh1106 reset complete")
	return nil
}

var blankPage [Width]byte

// Clear writes zeros to the visible columns of every page. Each page is
// addressed and filled in its own transaction.
func (d *Dev) Clear() error {
	for page := uint8(0); page < Pages; page++ {
		err := d.transact(func(t *txn) {
			t.command(columnAddress(ColumnOffset)...)
			t.command(pageAddress(page))
			t.data(blankPage[:])
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SetScroll sets the display start line. Only the low 6 bits of line are
// kept.
func (d *Dev) SetScroll(line uint8) error {
	return d.transact(func(t *txn) {
		next := line & scrollMask
		t.command(scrollLine(next))
		t.onCommit(func() { d.scroll = next })
	})
}

// AddScroll moves the start line by delta, wrapping modulo 64.
func (d *Dev) AddScroll(delta int8) error {
	return d.transact(func(t *txn) {
		next := (d.scroll + uint8(delta)) & scrollMask
		t.command(scrollLine(next))
		t.onCommit(func() { d.scroll = next })
	})
}

// Scroll returns the start line last written successfully.
func (d *Dev) Scroll() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scroll
}

// Contrast returns the contrast value last written successfully.
func (d *Dev) Contrast() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contrast
}

// Enabled reports whether display output was last switched on. A failed
// write leaves this and the other cached registers unchanged.
func (d *Dev) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

// SetPosition moves the controller cursor to column x of logical page y.
// The page register is 3 bits wide, so pages past 7 wrap.
func (d *Dev) SetPosition(x, y uint8) error {
	return d.transact(func(t *txn) {
		t.command(columnAddress(x + ColumnOffset)...)
		t.command(pageAddress(d.scroll>>3 + y))
	})
}

// DrawSpace writes n blank columns at the cursor, or n filled columns when
// inverse is set.
func (d *Dev) DrawSpace(n int, inverse bool) error {
	if n <= 0 {
		return nil
	}
	var fill byte
	if inverse {
		fill = 0xFF
	}
	return d.transact(func(t *txn) {
		for ; n > 0; n-- {
			t.data1(fill)
		}
	})
}

// DrawBitmap writes data at the cursor, one byte per column. With inverse
// set every byte is complemented before it is sent.
func (d *Dev) DrawBitmap(data []byte, inverse bool) error {
	if len(data) == 0 {
		return nil
	}
	return d.transact(func(t *txn) {
		if !inverse {
			t.data(data)
			return
		}
		for _, b := range data {
			t.data1(^b)
		}
	})
}

// DrawBitmapAt is DrawBitmap for read-only stores such as glyph tables: it
// reads n bytes from r at off and draws them. Nothing is sent if the read
// comes up short.
func (d *Dev) DrawBitmapAt(r io.ReaderAt, off int64, n int, inverse bool) error {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	read, err := r.ReadAt(buf, off)
	if read < n {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("sh1106: bitmap read at %d: %w", off, err)
	}
	return d.DrawBitmap(buf, inverse)
}

// SetContrast sets the contrast register (0-255).
func (d *Dev) SetContrast(v byte) error {
	return d.transact(func(t *txn) {
		t.command(cmdSetContrast, v)
		t.onCommit(func() { d.contrast = v })
	})
}

// Enable turns display output on or off. RAM is kept while off.
func (d *Dev) Enable(on bool) error {
	return d.transact(func(t *txn) {
		t.command(displayEnable(on))
		t.onCommit(func() { d.on = on })
	})
}

// Invert swaps lit and unlit pixels in hardware.
func (d *Dev) Invert(on bool) error {
	return d.transact(func(t *txn) {
		t.command(cmdInverseDisplay | boolBit(on))
	})
}

// AllOn lights every pixel regardless of RAM content.
func (d *Dev) AllOn(on bool) error {
	return d.transact(func(t *txn) {
		t.command(cmdAllPixelsOn | boolBit(on))
	})
}

// SetMirror sets the segment (x) and COM scan (y) directions. Reset leaves
// x mirrored and y normal, which matches the board's mounting.
func (d *Dev) SetMirror(x, y bool) error {
	return d.transact(func(t *txn) {
		t.command(mirrorX(x), mirrorY(y))
	})
}

// Nop sends the controller no-op command.
func (d *Dev) Nop() error {
	return d.transact(func(t *txn) {
		t.command(cmdNop)
	})
}

// Halt turns display output off. It implements conn.Resource.
func (d *Dev) Halt() error {
	return d.Enable(false)
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	return fmt.Sprintf("sh1106.Dev{%s, %dx%d}", d.c, Width, Height)
}
