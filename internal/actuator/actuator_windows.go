//go:build windows

package actuator

import (
	"log/slog"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
)

const (
	inputKeyboard = 1
	keyEventKeyUp = 0x0002
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSendInput           = user32.NewProc("SendInput")
	procFindWindowW         = user32.NewProc("FindWindowW")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
	procGetForegroundWindow = user32.NewProc("GetForegroundWindow")
)

type keybdInput struct {
	vk        uint16
	scan      uint16
	flags     uint32
	time      uint32
	extraInfo uintptr
}

// input mirrors INPUT with the keyboard arm of the union; pad fills the
// union up to the size of MOUSEINPUT.
type input struct {
	typ uint32
	ki  keybdInput
	pad [8]byte
}

type windowsPort struct{}

// New returns the user32 backend.
func New() (Port, error) {
	if err := procSendInput.Find(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnsupported, "user32 SendInput unavailable")
	}
	return windowsPort{}, nil
}

func (windowsPort) Send(code Code) {
	in := [2]input{
		{typ: inputKeyboard, ki: keybdInput{vk: uint16(code)}},
		{typ: inputKeyboard, ki: keybdInput{vk: uint16(code), flags: keyEventKeyUp}},
	}
	n, _, err := procSendInput.Call(uintptr(len(in)), uintptr(unsafe.Pointer(&in[0])), unsafe.Sizeof(in[0]))
	if n != uintptr(len(in)) {
		slog.Debug("SendInput dropped events", "key", code, "sent", n, "error", err)
	}
}

func (windowsPort) Focus(h Handle) Handle {
	prev, _, _ := procGetForegroundWindow.Call()
	if h != 0 {
		procSetForegroundWindow.Call(uintptr(h))
		time.Sleep(FocusSettle)
	}
	return Handle(prev)
}

func (windowsPort) Find(name string) (Handle, error) {
	title, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid window name")
	}
	h, _, _ := procFindWindowW.Call(0, uintptr(unsafe.Pointer(title)))
	if h == 0 {
		return 0, ErrTargetNotFound
	}
	return Handle(h), nil
}
