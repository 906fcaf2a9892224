package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/gardenbot/internal/actuator"
	"github.com/GriffinCanCode/gardenbot/internal/chime"
	"github.com/GriffinCanCode/gardenbot/internal/classify"
	"github.com/GriffinCanCode/gardenbot/internal/config"
	"github.com/GriffinCanCode/gardenbot/internal/control"
	"github.com/GriffinCanCode/gardenbot/internal/grpcclient"
	"github.com/GriffinCanCode/gardenbot/internal/metrics"
	"github.com/GriffinCanCode/gardenbot/internal/ocr"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator/coordinator"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator/journal"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator/scheduler"
	"github.com/GriffinCanCode/gardenbot/internal/resilience"
	"github.com/GriffinCanCode/gardenbot/internal/screen"
	"github.com/GriffinCanCode/gardenbot/internal/trace"
)

// Notifier plays session-end tones.
type Notifier interface {
	Play(ctx context.Context, p chime.Pattern) error
	Busy() bool
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Port       actuator.Port
	Capturer   coordinator.Capturer
	Recognizer coordinator.Recognizer
	Metrics    *metrics.Metrics
	Notifier   Notifier         // nil disables tones
	Timing     scheduler.Timing // zero means production pacing
}

// Snapshot is the state reported to the control panel.
type Snapshot struct {
	control.Snapshot
	Category       string      `json:"category"`
	Phase          string      `json:"phase"`
	Text           string      `json:"text"`
	Region         screen.Rect `json:"region"`
	SessionEnabled bool        `json:"session_enabled"`
}

// Manager coordinates all services
type Manager struct {
	cfg      *config.Config
	state    *control.State
	journal  *journal.Store
	metrics  *metrics.Metrics
	notifier Notifier
	sched    *scheduler.Scheduler
	coord    *coordinator.Coordinator
	lastScan classify.Category // coordinator goroutine only

	closers []func()
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

// New wires d into a manager. The worker starts immediately; the scan
// loop starts with Start.
func New(cfg *config.Config, d Deps) *Manager {
	m := &Manager{
		cfg:      cfg,
		journal:  journal.NewStore(JournalMaxEntries, JournalEventBuffer),
		metrics:  d.Metrics,
		notifier: d.Notifier,
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	m.state = control.New(control.WithStatusHook(func(s control.Status) {
		m.journal.Add(journal.KindStatus, s.Headline, s.Detail)
	}))

	port := actuator.Observe(d.Port, func(c actuator.Code) {
		m.metrics.KeyEvents.WithLabelValues(c.String()).Inc()
	})
	m.sched = scheduler.New(port, m.state, scheduler.Config{
		Target: cfg.TargetWindow,
		Timing: d.Timing,
		Hooks: scheduler.Hooks{
			OnSessionEnd: m.sessionEnded,
			OnMaintenance: func(c classify.Category) {
				m.metrics.Maintenance.WithLabelValues(c.String()).Inc()
			},
			OnHarvest: m.metrics.Harvested.Inc,
		},
	})

	breaker, _ := d.Recognizer.(interface{ BreakerState() resilience.State })
	m.coord = coordinator.New(d.Capturer, d.Recognizer, m.sched, m.state, coordinator.Hooks{
		OnClassify: func(c classify.Category) {
			m.metrics.Classifications.WithLabelValues(c.String()).Inc()
			if c != m.lastScan {
				m.journal.Add(journal.KindScan, "Selection changed", m.lastScan.String()+" -> "+c.String())
				m.lastScan = c
			}
		},
		OnRecognize: func(d time.Duration, err error) {
			m.metrics.ObserveRecognize(d, err)
			if breaker != nil {
				m.metrics.BreakerState.Set(float64(breaker.BreakerState()))
			}
		},
	})
	m.coord.SetRegion(cfg.Region)
	return m
}

// Build creates a manager on the platform backends selected by cfg.
func Build(cfg *config.Config, reg *metrics.Metrics) (*Manager, error) {
	log := trace.Logger(context.Background())

	port, err := actuator.New()
	if err != nil {
		return nil, err
	}

	var closers []func()
	capturer := screen.New()
	closers = append(closers, capturer.Close)

	var recognizer coordinator.Recognizer
	switch cfg.Recognizer {
	case config.RecognizerGRPC:
		client, err := grpcclient.New(cfg.RecognizerAddr)
		if err != nil {
			capturer.Close()
			return nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		recognizer = client
	default:
		recognizer = ocr.NewTesseract(ocr.Options{
			TesseractPath: cfg.TesseractPath,
			MagickPath:    cfg.MagickPath,
			Enhance:       cfg.EnhanceText,
		})
	}

	d := Deps{Port: port, Capturer: capturer, Recognizer: recognizer, Metrics: reg}
	if cfg.ChimeEnabled {
		player, err := chime.New()
		if err != nil {
			log.Warn("chime disabled", "error", err)
		} else {
			closers = append(closers, func() { _ = player.Close() })
			d.Notifier = player
		}
	}

	m := New(cfg, d)
	m.closers = closers
	log.Info("manager ready", "target", cfg.TargetWindow, "recognizer", cfg.Recognizer, "region", cfg.Region.String())
	return m, nil
}

// Start begins the scan loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	interval := m.cfg.ScanInterval
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.coord.Run(ctx, interval)
	}()
}

// Close stops the scan loop and the worker, then releases backends.
// No key events are sent after Close returns.
func (m *Manager) Close() {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
		m.sched.Close()
		for i := len(m.closers) - 1; i >= 0; i-- {
			m.closers[i]()
		}
	})
}

func (m *Manager) sessionEnded(o scheduler.Outcome) {
	reason := outcomeLabel(o.Reason)
	m.metrics.ObserveSession(reason, o.Duration)
	m.journal.Add(journal.KindSession, "Session ended",
		fmt.Sprintf("%s, %d harvested in %s", reason, o.Harvested, o.Duration.Round(time.Second)))

	pattern := outcomePattern(o.Reason)
	if m.notifier == nil || pattern == nil || m.notifier.Busy() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ChimeTimeout)
		defer cancel()
		if err := m.notifier.Play(ctx, pattern); err != nil {
			trace.Logger(ctx).Debug("chime failed", "error", err)
		}
	}()
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, scheduler.ErrFinished):
		return "finished"
	case errors.Is(err, scheduler.ErrStopped):
		return "stopped"
	case errors.Is(err, scheduler.ErrSelectionLost):
		return "selection_lost"
	case errors.Is(err, scheduler.ErrSuperseded):
		return "superseded"
	case errors.Is(err, scheduler.ErrShutdown):
		return "shutdown"
	default:
		return "error"
	}
}

func outcomePattern(err error) chime.Pattern {
	switch {
	case errors.Is(err, scheduler.ErrFinished):
		return chime.Finished
	case errors.Is(err, scheduler.ErrSelectionLost):
		return chime.Alert
	case errors.Is(err, scheduler.ErrStopped):
		return chime.Stopped
	default:
		return nil
	}
}

// StartSession configures and starts a session.
func (m *Manager) StartSession(p scheduler.Params) error {
	if err := m.coord.Enable(p); err != nil {
		return err
	}
	m.journal.Add(journal.KindSession, "Session started",
		fmt.Sprintf("%d rounds, %d objects per round", p.Rounds, p.Objects))
	return nil
}

// StopSession stops the current session.
func (m *Manager) StopSession() {
	m.coord.Disable()
}

// SetRegion changes the scan region.
func (m *Manager) SetRegion(r screen.Rect) {
	m.coord.SetRegion(r)
	m.coord.Refresh()
}

// ApplyConfig applies the settings that can change while running.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	if cfg.Region != m.coord.Region() {
		m.SetRegion(cfg.Region)
	}
	if cfg.ScanInterval != m.cfg.ScanInterval {
		m.coord.SetInterval(cfg.ScanInterval)
	}
	m.cfg.Region = cfg.Region
	m.cfg.ScanInterval = cfg.ScanInterval
}

// Snapshot returns the current bot state.
func (m *Manager) Snapshot() Snapshot {
	s := m.state.Snapshot()
	return Snapshot{
		Snapshot:       s,
		Category:       s.Category.String(),
		Phase:          m.sched.Phase().String(),
		Text:           m.coord.Text(),
		Region:         m.coord.Region(),
		SessionEnabled: m.coord.Enabled(),
	}
}

// Image returns the latest captured region.
func (m *Manager) Image() []byte { return m.coord.Image() }

// Journal returns up to n recent entries.
func (m *Manager) Journal(n int) []journal.Entry { return m.journal.Recent(n) }

// JournalEvents returns the channel of new journal entries.
func (m *Manager) JournalEvents() <-chan journal.Entry { return m.journal.Events() }

// MetricsHandler serves the Prometheus registry.
func (m *Manager) MetricsHandler() http.Handler { return m.metrics.Handler() }
