// Package screen provides platform-agnostic region capture
package screen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	"image/png"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
)

// Rect is a screen region in pixels.
type Rect struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// Empty reports whether r covers no pixels.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

func (r Rect) String() string { return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H) }

func (r Rect) bounds() image.Rectangle { return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H) }

// ParseRect parses "x,y,w,h".
func ParseRect(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, apperrors.Newf(apperrors.CodeInvalidArgument, "region %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Rect{}, apperrors.Wrapf(err, apperrors.CodeInvalidArgument, "region %q", s)
		}
		v[i] = n
	}
	r := Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}
	if r.Empty() || r.X < 0 || r.Y < 0 {
		return Rect{}, apperrors.Newf(apperrors.CodeInvalidArgument, "region %q is empty or negative", s)
	}
	return r, nil
}

// Capturer grabs a region of the primary display as PNG.
type Capturer interface {
	Capture(ctx context.Context, r Rect) ([]byte, error)
	Close()
}

// backend implements platform-specific full-screen capture
type backend interface {
	captureRaw(ctx context.Context) ([]byte, error)
	cleanup()
}

// baseCapturer crops backend screenshots to the requested region
type baseCapturer struct {
	backend
	tempDir string
}

func newBase(b backend, tempDir string) *baseCapturer {
	return &baseCapturer{backend: b, tempDir: tempDir}
}

func (c *baseCapturer) Capture(ctx context.Context, r Rect) ([]byte, error) {
	if r.Empty() {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "no capture region set")
	}
	data, err := c.captureRaw(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "screenshot failed")
	}
	return Crop(data, r)
}

func (c *baseCapturer) Close() {
	c.cleanup()
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop decodes an encoded screenshot, cuts r out of it and returns PNG.
// Regions partly off-screen are clipped.
func Crop(data []byte, r Rect) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "decode screenshot")
	}
	area := r.bounds().Intersect(img.Bounds())
	if area.Empty() {
		return nil, apperrors.Newf(apperrors.CodeCaptureFailed, "region %s outside screen %v", r, img.Bounds())
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeCaptureFailed, "cannot crop %T", img)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, si.SubImage(area)); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeCaptureFailed, "encode region")
	}
	return buf.Bytes(), nil
}

func makeTempDir() string {
	dir, err := os.MkdirTemp("", "gardenbot-screen-*")
	if err != nil {
		return os.TempDir()
	}
	return dir
}
