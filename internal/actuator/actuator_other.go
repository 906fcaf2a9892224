//go:build !windows && !linux

package actuator

import (
	"runtime"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
)

// New reports that key injection is not implemented on this platform.
func New() (Port, error) {
	return nil, apperrors.Newf(apperrors.CodeUnsupported, "key injection not supported on %s", runtime.GOOS)
}
