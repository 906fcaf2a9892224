//go:build linux

package actuator

import (
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
)

type linuxPort struct{ xdotool string }

// New returns the xdotool backend.
func New() (Port, error) {
	path, err := exec.LookPath("xdotool")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnsupported, "xdotool not found (install xdotool)")
	}
	return &linuxPort{xdotool: path}, nil
}

func (l *linuxPort) run(args ...string) (string, error) {
	cmd := exec.Command(l.xdotool, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("xdotool %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// keysym maps virtual-key codes onto X keysyms. Letter and digit codes
// coincide with their ASCII characters.
func keysym(code Code) string {
	c := rune(code)
	if c >= 'A' && c <= 'Z' {
		return string(c + ('a' - 'A'))
	}
	return string(c)
}

func (l *linuxPort) Send(code Code) {
	if _, err := l.run("key", "--clearmodifiers", keysym(code)); err != nil {
		slog.Debug("key send failed", "key", code, "error", err)
	}
}

func (l *linuxPort) Focus(h Handle) Handle {
	var prev Handle
	if out, err := l.run("getactivewindow"); err == nil {
		if id, err := strconv.ParseUint(out, 10, 64); err == nil {
			prev = Handle(id)
		}
	}
	if h != 0 {
		if _, err := l.run("windowactivate", "--sync", strconv.FormatUint(uint64(h), 10)); err != nil {
			slog.Debug("window activate failed", "window", uint64(h), "error", err)
		}
		time.Sleep(FocusSettle)
	}
	return prev
}

func (l *linuxPort) Find(name string) (Handle, error) {
	out, err := l.run("search", "--name", namePattern(name))
	if err != nil || out == "" {
		return 0, ErrTargetNotFound
	}
	first, _, _ := strings.Cut(out, "\n")
	id, err := strconv.ParseUint(first, 10, 64)
	if err != nil {
		return 0, ErrTargetNotFound
	}
	return Handle(id), nil
}

// namePattern matches a window title exactly.
func namePattern(name string) string {
	return "^" + regexp.QuoteMeta(name) + "$"
}
