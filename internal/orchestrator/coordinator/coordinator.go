// Package coordinator runs the perception loop: it scans the selection
// panel, classifies the text and wakes the scheduler when work appears.
package coordinator

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/gardenbot/internal/classify"
	"github.com/GriffinCanCode/gardenbot/internal/control"
	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator/scheduler"
	"github.com/GriffinCanCode/gardenbot/internal/screen"
	"github.com/GriffinCanCode/gardenbot/internal/syncx"
	"github.com/corona10/goimagehash"
)

// Capturer grabs a screen region as an encoded image.
type Capturer interface {
	Capture(ctx context.Context, r screen.Rect) ([]byte, error)
}

// Recognizer extracts text from an encoded image.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (string, error)
}

// Controller is the session control surface of the scheduler.
type Controller interface {
	Configure(p scheduler.Params)
	Start()
	Stop()
	Kick()
}

// Hooks observe scans. They run on the coordinator goroutine.
type Hooks struct {
	OnClassify  func(classify.Category)
	OnRecognize func(time.Duration, error)
}

// Coordinator owns the scan loop.
type Coordinator struct {
	capturer   Capturer
	recognizer Recognizer
	ctl        Controller
	state      *control.State
	hooks      Hooks

	region  *syncx.Guard[screen.Rect]
	enabled atomic.Bool

	mu       sync.RWMutex
	text     string
	image    []byte
	lastHash *goimagehash.ImageHash

	refresh    chan struct{}
	intervalCh chan time.Duration
}

// New creates a coordinator. It does nothing until Run is called.
func New(capturer Capturer, recognizer Recognizer, ctl Controller, state *control.State, hooks Hooks) *Coordinator {
	return &Coordinator{
		capturer:   capturer,
		recognizer: recognizer,
		ctl:        ctl,
		state:      state,
		hooks:      hooks,
		region:     syncx.NewGuard(screen.Rect{}),
		refresh:    make(chan struct{}, 1),
		intervalCh: make(chan time.Duration, 1),
	}
}

// Run ticks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.intervalCh:
			ticker.Reset(d)
			slog.Debug("scan interval changed", "interval", d)
		case <-c.refresh:
			c.Tick(ctx)
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// SetInterval changes the cadence of a running loop. Non-positive values
// are ignored.
func (c *Coordinator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	for {
		select {
		case c.intervalCh <- d:
			return
		default:
		}
		select {
		case <-c.intervalCh:
		default:
		}
	}
}

// Refresh asks the loop for an immediate tick.
func (c *Coordinator) Refresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Tick reconciles the session switch, then scans and classifies once.
func (c *Coordinator) Tick(ctx context.Context) {
	if c.reconcile() {
		return
	}

	cat := classify.Classify(c.scan(ctx))
	prev := c.state.SwapCategory(cat)
	if c.hooks.OnClassify != nil {
		c.hooks.OnClassify(cat)
	}
	if cat != prev && (prev == classify.None || prev == classify.Growing) {
		slog.Debug("selection changed", "from", prev, "to", cat)
		c.ctl.Kick()
	}
}

// reconcile aligns the enabled switch with the scheduler and reports
// whether anything changed.
func (c *Coordinator) reconcile() bool {
	active := c.state.RemainingRounds() > 0
	enabled := c.enabled.Load()
	switch {
	case enabled && !active:
		c.ctl.Stop()
		c.enabled.Store(false)
		slog.Info("session ended")
		return true
	case !enabled && active:
		c.enabled.Store(true)
		slog.Info("adopted running session")
		return true
	}
	return false
}

func (c *Coordinator) scan(ctx context.Context) string {
	r := c.region.Load()
	if r.Empty() {
		c.setText("")
		return ""
	}

	img, err := c.capturer.Capture(ctx, r)
	if err != nil {
		slog.Debug("capture error", "region", r.String(), "error", err)
		c.setText("")
		return ""
	}

	c.mu.Lock()
	c.image = img
	c.mu.Unlock()

	if c.shouldSkipRecognize(img) {
		return c.Text()
	}

	start := time.Now()
	text, err := c.recognizer.Recognize(ctx, img)
	if c.hooks.OnRecognize != nil {
		c.hooks.OnRecognize(time.Since(start), err)
	}
	if err != nil {
		slog.Debug("recognize error", "error", err)
		c.resetHash()
		c.setText("")
		return ""
	}

	text = strings.NewReplacer("\r", "", "\n", "").Replace(text)
	c.setText(text)
	return text
}

// shouldSkipRecognize computes the pHash of img and reports whether it
// matches the previous recognized frame.
func (c *Coordinator) shouldSkipRecognize(imgData []byte) bool {
	img, _, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return false
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastHash == nil {
		c.lastHash = hash
		return false
	}

	dist, err := c.lastHash.Distance(hash)
	if err != nil || dist > MaxHashDistance {
		c.lastHash = hash
		return false
	}
	slog.Debug("skipping recognize, frame unchanged", "distance", dist)
	return true
}

func (c *Coordinator) resetHash() {
	c.mu.Lock()
	c.lastHash = nil
	c.mu.Unlock()
}

func (c *Coordinator) setText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

// Enable configures and starts a session, then scans right away.
func (c *Coordinator) Enable(p scheduler.Params) error {
	if p.Rounds == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "rounds must be greater than zero")
	}
	if c.region.Load().Empty() {
		return apperrors.New(apperrors.CodeInvalidArgument, "scan region is not set")
	}
	c.ctl.Configure(p)
	c.ctl.Start()
	c.enabled.Store(true)
	c.Refresh()
	return nil
}

// Disable stops the current session.
func (c *Coordinator) Disable() {
	c.ctl.Stop()
	c.enabled.Store(false)
}

// Enabled reports the session switch.
func (c *Coordinator) Enabled() bool { return c.enabled.Load() }

// SetRegion sets the scan region. A new region invalidates the frame hash.
func (c *Coordinator) SetRegion(r screen.Rect) {
	if c.region.Swap(r) != r {
		c.resetHash()
	}
}

// Region returns the scan region.
func (c *Coordinator) Region() screen.Rect { return c.region.Load() }

// Text returns the latest recognized text.
func (c *Coordinator) Text() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.text
}

// Image returns the latest captured region.
func (c *Coordinator) Image() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.image
}
