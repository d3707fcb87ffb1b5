// Package sim emulates an SH1106 display controller behind an SPI port.
//
// A Panel decodes the command/data byte stream the way the controller does
// and keeps the resulting display RAM and registers, so the daemon can run
// without hardware and tests can assert on what would be visible.
package sim

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Controller geometry.
const (
	RAMColumns    = 132
	Pages         = 8
	Lines         = Pages * 8
	VisibleWidth  = 128
	VisibleOffset = 2
)

// State is a snapshot of the controller registers.
type State struct {
	Column    uint8
	Page      uint8
	StartLine uint8
	Contrast  byte
	On        bool
	Inverse   bool
	AllOn     bool
	MirrorX   bool
	MirrorY   bool
}

// ResetPin is the RES line of a Panel. Driving it low resets the registers.
type ResetPin struct {
	*gpiotest.Pin
	p *Panel
}

// Out implements gpio.PinOut.
func (r *ResetPin) Out(l gpio.Level) error {
	if err := r.Pin.Out(l); err != nil {
		return err
	}
	if l == gpio.Low {
		r.p.resetRegisters()
	}
	return nil
}

// Panel is an emulated SH1106. It implements spi.Port and spi.Conn; CS, DC
// and RST are the control lines to hand to the driver.
type Panel struct {
	CS  *gpiotest.Pin
	DC  *gpiotest.Pin
	RST *ResetPin

	mu              sync.Mutex
	ram             [Pages][RAMColumns]byte
	st              State
	pendingContrast bool
	freq            physic.Frequency
	mode            spi.Mode
	txs             int
	unknown         int
}

// NewPanel returns a powered-up Panel with blank RAM, chip-select released
// and the reset line high.
func NewPanel() *Panel {
	p := &Panel{
		CS: &gpiotest.Pin{N: "SIM_CS", L: gpio.High},
		DC: &gpiotest.Pin{N: "SIM_DC", L: gpio.Low},
	}
	p.RST = &ResetPin{Pin: &gpiotest.Pin{N: "SIM_RST", L: gpio.High}, p: p}
	p.resetRegisters()
	return p
}

func (p *Panel) resetRegisters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st = State{Contrast: 0x80}
	p.pendingContrast = false
}

// String implements conn.Resource.
func (p *Panel) String() string { return "sim.Panel" }

// Connect implements spi.Port.
func (p *Panel) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if bits != 8 {
		return nil, fmt.Errorf("sim: %d bits per word not supported", bits)
	}
	p.mu.Lock()
	p.freq, p.mode = f, mode
	p.mu.Unlock()
	return p, nil
}

// Duplex implements conn.Conn.
func (p *Panel) Duplex() conn.Duplex { return conn.Half }

// Tx implements conn.Conn. Bytes are dropped while chip-select is high or
// the controller is held in reset.
func (p *Panel) Tx(w, r []byte) error {
	if len(r) != 0 {
		return errors.New("sim: the controller is write-only over SPI")
	}
	if p.CS.Read() == gpio.High || p.RST.Read() == gpio.Low {
		return nil
	}
	data := p.DC.Read() == gpio.High

	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs++
	for _, b := range w {
		if data {
			p.writeData(b)
		} else {
			p.command(b)
		}
	}
	return nil
}

// TxPackets implements spi.Conn.
func (p *Panel) TxPackets(pkts []spi.Packet) error {
	for _, pk := range pkts {
		if err := p.Tx(pk.W, pk.R); err != nil {
			return err
		}
	}
	return nil
}

func (p *Panel) command(b byte) {
	if p.pendingContrast {
		p.st.Contrast = b
		p.pendingContrast = false
		return
	}
	switch {
	case b <= 0x0F:
		p.st.Column = p.st.Column&0xF0 | b
	case b <= 0x1F:
		p.st.Column = p.st.Column&0x0F | (b&0x0F)<<4
	case b >= 0x40 && b <= 0x7F:
		p.st.StartLine = b & 0x3F
	case b == 0x81:
		p.pendingContrast = true
	case b == 0xA0 || b == 0xA1:
		p.st.MirrorX = b&1 != 0
	case b == 0xA4 || b == 0xA5:
		p.st.AllOn = b&1 != 0
	case b == 0xA6 || b == 0xA7:
		p.st.Inverse = b&1 != 0
	case b == 0xAE || b == 0xAF:
		p.st.On = b&1 != 0
	case b >= 0xB0 && b <= 0xB7:
		p.st.Page = b & 0x07
	case b == 0xC0 || b == 0xC8:
		p.st.MirrorY = b&0x08 != 0
	case b == 0xE3:
	default:
		p.unknown++
	}
}

// writeData stores b at the cursor. The column pointer stops advancing at
// the end of RAM and further bytes are discarded.
func (p *Panel) writeData(b byte) {
	if int(p.st.Column) >= RAMColumns {
		return
	}
	p.ram[p.st.Page][p.st.Column] = b
	p.st.Column++
}

// State returns the current registers.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st
}

// Bus returns the frequency and mode the last Connect asked for.
func (p *Panel) Bus() (physic.Frequency, spi.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freq, p.mode
}

// Transfers returns how many Tx calls reached the controller.
func (p *Panel) Transfers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txs
}

// Unknown returns how many command bytes were not recognised.
func (p *Panel) Unknown() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unknown
}

// Page returns a copy of one RAM page including the hidden columns.
func (p *Panel) Page(page int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, RAMColumns)
	copy(out, p.ram[page%Pages][:])
	return out
}

// Fill sets every RAM byte to b, standing in for the undefined content of a
// freshly powered controller.
func (p *Panel) Fill(b byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.ram {
		for j := range p.ram[i] {
			p.ram[i][j] = b
		}
	}
}

// Lit reports whether the pixel at screen position (x, y) is lit, taking the
// start line, inverse, all-on and display-off state into account.
func (p *Panel) Lit(x, y int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lit(x, y)
}

func (p *Panel) lit(x, y int) bool {
	if !p.st.On {
		return false
	}
	if p.st.AllOn {
		return true
	}
	line := (y + int(p.st.StartLine)) % Lines
	on := p.ram[line/8][x+VisibleOffset]>>(line%8)&1 != 0
	return on != p.st.Inverse
}

// Image renders the visible window. Lit pixels are drawn at a gray level
// that follows the contrast register.
func (p *Panel) Image() *image.Gray {
	p.mu.Lock()
	defer p.mu.Unlock()

	img := image.NewGray(image.Rect(0, 0, VisibleWidth, Lines))
	white := color.Gray{Y: byte(0x40 + int(p.st.Contrast)*0xBF/0xFF)}
	for y := 0; y < Lines; y++ {
		for x := 0; x < VisibleWidth; x++ {
			if p.lit(x, y) {
				img.SetGray(x, y, white)
			}
		}
	}
	return img
}
