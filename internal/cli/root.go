// Package cli implements the gardenbot command line.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/gardenbot/internal/config"
	"github.com/GriffinCanCode/gardenbot/internal/metrics"
	"github.com/GriffinCanCode/gardenbot/internal/orchestrator"
	"github.com/GriffinCanCode/gardenbot/internal/screen"
	"github.com/GriffinCanCode/gardenbot/internal/server"
)

const shutdownTimeout = 5 * time.Second

// options holds flag values layered over the loaded config.
type options struct {
	configPath string
	addr       string
	target     string
	region     string
	recognizer string
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{})
}

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "gardenbot",
		Short:         "Automates garden rounds from on-screen selection text",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			setupLogging(cfg.SlogLevel())
			return runBot(cmd.Context(), cmd, opts, cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file path (default $"+config.EnvConfigPath+")")
	flags.StringVar(&opts.addr, "addr", "", "HTTP listen address")
	flags.StringVar(&opts.target, "target", "", "title of the game window")
	flags.StringVar(&opts.region, "region", "", "scan region as x,y,w,h")
	flags.StringVar(&opts.recognizer, "recognizer", "", "text recognizer: tesseract or grpc")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(newServeOCRCommand(opts))
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		slog.Error("gardenbot failed", "error", err)
		os.Exit(1)
	}
}

// load reads the config file and environment, then applies set flags.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(o.configPath))
	if err != nil {
		return nil, err
	}
	if err := o.apply(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (o *options) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.HTTPAddr = o.addr
	}
	if flags.Changed("target") {
		cfg.TargetWindow = o.target
	}
	if flags.Changed("recognizer") {
		cfg.Recognizer = o.recognizer
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("region") {
		r, err := screen.ParseRect(o.region)
		if err != nil {
			return err
		}
		cfg.Region = r
	}
	return nil
}

func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func runBot(ctx context.Context, cmd *cobra.Command, opts *options, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := orchestrator.Build(cfg, metrics.New())
	if err != nil {
		return err
	}
	defer mgr.Close()

	srv := server.New(mgr)
	mgr.Start(ctx)

	loops := []func(context.Context){srv.Run}
	if path := config.ResolvePath(opts.configPath); path != "" {
		loops = append(loops, func(ctx context.Context) {
			err := config.Watch(ctx, path, func(next *config.Config) {
				if err := opts.apply(cmd, next); err != nil {
					slog.Warn("ignoring reloaded config", "error", err)
					return
				}
				mgr.ApplyConfig(next)
			})
			if err != nil {
				slog.Warn("config watch unavailable", "path", path, "error", err)
			}
		})
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return supervise(ctx, func(ctx context.Context) error {
		return serveHTTP(ctx, httpServer, cfg)
	}, loops...)
}

// supervise runs the loops while serve runs. Once serve returns, the
// loops are cancelled and joined before its error is returned.
func supervise(ctx context.Context, serve func(context.Context) error, loops ...func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	err := serve(ctx)
	cancel()
	wg.Wait()
	return err
}

// serveHTTP serves until ctx is done or the listener fails, then shuts
// the server down.
func serveHTTP(ctx context.Context, httpServer *http.Server, cfg *config.Config) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("gardenbot starting", "http", cfg.HTTPAddr, "target", cfg.TargetWindow)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		slog.Error("http server error", "error", err)
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		slog.Error("http shutdown error", "error", serr)
	}
	return err
}
