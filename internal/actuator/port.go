// Package actuator sends synthetic key events to the game window.
package actuator

import (
	"fmt"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
)

// Code is a virtual-key code.
type Code uint16

// Event codes used by the round sequences.
const (
	Use     Code = 0x55 // U
	Advance Code = 0x59 // Y
)

// Slot returns the key selecting seed slot i (0-based).
func Slot(i int) Code { return SlotBase + Code(i) }

// String names the key for logs.
func (c Code) String() string {
	switch {
	case c == Use:
		return "use"
	case c == Advance:
		return "advance"
	case c >= SlotBase && c < SlotBase+SlotCount:
		return fmt.Sprintf("slot%d", int(c-SlotBase)+1)
	default:
		return fmt.Sprintf("0x%02x", uint16(c))
	}
}

// Handle identifies a top-level window. Zero means none.
type Handle uintptr

// ErrTargetNotFound is returned by Find when no window has the name.
var ErrTargetNotFound = apperrors.New(apperrors.CodeTargetNotFound, "target window not found")

// Port delivers events to the target.
type Port interface {
	// Send presses and releases code. It does not report delivery.
	Send(code Code)
	// Focus brings h to the foreground and returns the previously
	// focused window. It waits FocusSettle before returning.
	Focus(h Handle) Handle
	// Find resolves a window by its title.
	Find(name string) (Handle, error)
}

// observed wraps a Port and reports every sent code.
type observed struct {
	Port
	onSend func(Code)
}

// Observe returns a Port that calls onSend after each Send.
func Observe(p Port, onSend func(Code)) Port {
	if onSend == nil {
		return p
	}
	return &observed{Port: p, onSend: onSend}
}

func (o *observed) Send(code Code) {
	o.Port.Send(code)
	o.onSend(code)
}
