// Package input turns raw button pin levels into debounced, auto-repeating
// press/release events.
//
// The Manager is polled: the owner calls Update on a steady tick and drains
// events with Pop. Pins are wired idle-high with pull-ups, so a 1 bit in a raw
// sample means released and a 0 bit means pressed.
package input

import "fmt"

// Button identifies one of the six physical buttons. The value is the bit
// position of the button in a raw sample.
type Button uint8

const (
	ButtonB     Button = 0
	ButtonA     Button = 1
	ButtonRight Button = 2
	ButtonDown  Button = 3
	ButtonLeft  Button = 4
	ButtonUp    Button = 5

	ButtonCount = 6
)

// RawMask selects the button bits of a raw sample.
const RawMask uint8 = 1<<ButtonCount - 1

// Buttons lists every button in pin configuration order.
var Buttons = [ButtonCount]Button{ButtonA, ButtonB, ButtonUp, ButtonDown, ButtonLeft, ButtonRight}

var buttonNames = [ButtonCount]string{
	ButtonB:     "b",
	ButtonA:     "a",
	ButtonRight: "right",
	ButtonDown:  "down",
	ButtonLeft:  "left",
	ButtonUp:    "up",
}

func (b Button) bit() uint8 { return 1 << b }

func (b Button) String() string {
	if int(b) < ButtonCount {
		return buttonNames[b]
	}
	return fmt.Sprintf("button(%d)", uint8(b))
}

// ParseButton returns the button with the given lower-case name.
func ParseButton(s string) (Button, error) {
	for i, n := range buttonNames {
		if n == s {
			return Button(i), nil
		}
	}
	return 0, fmt.Errorf("input: unknown button %q", s)
}

// Kind is the edge an Event reports.
type Kind uint8

const (
	Down Kind = iota
	Up
)

func (k Kind) String() string {
	if k == Up {
		return "up"
	}
	return "down"
}

// Event is a single debounced edge or a synthetic auto-repeat press.
type Event struct {
	Button Button
	Kind   Kind
}

func (e Event) String() string {
	return e.Button.String() + ":" + e.Kind.String()
}
