// Package ocr turns captured regions into text with external OCR tools.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
)

// Recognizer extracts text from an encoded image.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (string, error)
}

// Options configures the Tesseract pipeline.
type Options struct {
	TesseractPath string
	MagickPath    string
	// Enhance runs the ImageMagick threshold pass before OCR. The panel
	// text is light brown on a textured background.
	Enhance bool
	Timeout time.Duration
}

// Tesseract runs an optional ImageMagick pass and then tesseract, piping
// the image through stdin and stdout.
type Tesseract struct {
	opts Options
}

// NewTesseract fills unset options with defaults.
func NewTesseract(opts Options) *Tesseract {
	if opts.TesseractPath == "" {
		opts.TesseractPath = DefaultTesseractPath
	}
	if opts.MagickPath == "" {
		opts.MagickPath = DefaultMagickPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Tesseract{opts: opts}
}

// Recognize implements Recognizer.
func (t *Tesseract) Recognize(ctx context.Context, img []byte) (string, error) {
	if len(img) == 0 {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "empty image")
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	data := img
	if t.opts.Enhance {
		out, err := pipe(ctx, t.opts.MagickPath, data, enhanceArgs...)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.CodeRecognitionFailed, "image enhance failed")
		}
		data = out
	}
	out, err := pipe(ctx, t.opts.TesseractPath, data, "stdin", "stdout")
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", apperrors.Wrap(err, apperrors.CodeTimeout, "tesseract timed out")
		}
		return "", apperrors.Wrap(err, apperrors.CodeRecognitionFailed, "tesseract failed")
	}
	return strings.ToValidUTF8(string(out), "\uFFFD"), nil
}

// pipe runs name with in on stdin and returns stdout.
func pipe(ctx context.Context, name string, in []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
