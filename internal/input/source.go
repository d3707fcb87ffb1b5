package input

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
)

// PinSource samples six GPIO inputs. Pins are indexed by Button, so
// pins[ButtonA] is the A button line.
type PinSource struct {
	pins [ButtonCount]gpio.PinIn
}

// NewPinSource builds a PinSource from pins given in Buttons order
// (A, B, Up, Down, Left, Right).
func NewPinSource(a, b, up, down, left, right gpio.PinIn) (*PinSource, error) {
	s := &PinSource{}
	for i, p := range []gpio.PinIn{a, b, up, down, left, right} {
		if p == nil {
			return nil, fmt.Errorf("input: %s pin is nil", Buttons[i])
		}
		s.pins[Buttons[i]] = p
	}
	return s, nil
}

// Configure sets every pin as a pulled-up input without edge detection.
func (s *PinSource) Configure() error {
	for i, p := range s.pins {
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return fmt.Errorf("input: %s pin %s: %w", Button(i), p, err)
		}
	}
	return nil
}

// Read returns the pin levels packed by Button bit position.
func (s *PinSource) Read() (uint8, error) {
	var raw uint8
	for i, p := range s.pins {
		if p.Read() == gpio.High {
			raw |= 1 << i
		}
	}
	return raw, nil
}

// VirtualSource is a Source whose levels are set in software, used when no
// button hardware is attached. It starts with every button released.
type VirtualSource struct {
	raw atomic.Uint32
}

// NewVirtualSource returns a VirtualSource with all buttons released.
func NewVirtualSource() *VirtualSource {
	v := &VirtualSource{}
	v.raw.Store(uint32(RawMask))
	return v
}

func (v *VirtualSource) Configure() error { return nil }

func (v *VirtualSource) Read() (uint8, error) {
	return uint8(v.raw.Load()), nil
}

// Set drives the line of b low when pressed and high otherwise.
func (v *VirtualSource) Set(b Button, pressed bool) {
	for {
		old := v.raw.Load()
		next := old | uint32(b.bit())
		if pressed {
			next = old &^ uint32(b.bit())
		}
		if v.raw.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetRaw replaces every level at once.
func (v *VirtualSource) SetRaw(raw uint8) {
	v.raw.Store(uint32(raw & RawMask))
}
