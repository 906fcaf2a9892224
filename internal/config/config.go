// Package config handles gardenbot configuration
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/gardenbot/internal/errors"
	"github.com/GriffinCanCode/gardenbot/internal/screen"
	"gopkg.in/yaml.v3"
)

// Recognizer backends.
const (
	RecognizerTesseract = "tesseract"
	RecognizerGRPC      = "grpc"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "GARDENBOT_CONFIG"

type Config struct {
	HTTPAddr       string        `yaml:"http_addr"`
	TargetWindow   string        `yaml:"target_window"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	Region         screen.Rect   `yaml:"region"`
	Recognizer     string        `yaml:"recognizer"`
	RecognizerAddr string        `yaml:"recognizer_addr"`
	TesseractPath  string        `yaml:"tesseract_path"`
	MagickPath     string        `yaml:"magick_path"`
	EnhanceText    bool          `yaml:"enhance_text"`
	ChimeEnabled   bool          `yaml:"chime_enabled"`
	LogLevel       string        `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:       ":8321",
		TargetWindow:   "Garden",
		ScanInterval:   5 * time.Second,
		Recognizer:     RecognizerTesseract,
		RecognizerAddr: "localhost:50051",
		TesseractPath:  "tesseract",
		MagickPath:     "convert",
		EnhanceText:    true,
		ChimeEnabled:   true,
		LogLevel:       "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, then environment variables. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "read config file").WithMetadata("path", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "parse config file").WithMetadata("path", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.TargetWindow = getEnv("TARGET_WINDOW", c.TargetWindow)
	c.ScanInterval = getEnvDuration("SCAN_INTERVAL", c.ScanInterval)
	c.Region = getEnvRect("REGION", c.Region)
	c.Recognizer = getEnv("RECOGNIZER", c.Recognizer)
	c.RecognizerAddr = getEnv("RECOGNIZER_ADDR", c.RecognizerAddr)
	c.TesseractPath = getEnv("TESSERACT_PATH", c.TesseractPath)
	c.MagickPath = getEnv("MAGICK_PATH", c.MagickPath)
	c.EnhanceText = getEnvBool("ENHANCE_TEXT", c.EnhanceText)
	c.ChimeEnabled = getEnvBool("CHIME_ENABLED", c.ChimeEnabled)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Recognizer {
	case RecognizerTesseract:
	case RecognizerGRPC:
		if c.RecognizerAddr == "" {
			return apperrors.New(apperrors.CodeConfigInvalid, "grpc recognizer needs recognizer_addr")
		}
	default:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "unknown recognizer %q", c.Recognizer)
	}
	if c.ScanInterval <= 0 {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "scan interval must be positive, got %s", c.ScanInterval)
	}
	if c.TargetWindow == "" {
		return apperrors.New(apperrors.CodeConfigInvalid, "target window is empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "invalid log level %q", s)
	}
	return l, nil
}

// ResolvePath picks the config file: the flag value, else $GARDENBOT_CONFIG.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvConfigPath)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}

func getEnvRect(key string, def screen.Rect) screen.Rect {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if r, err := screen.ParseRect(v); err == nil {
			return r
		}
	}
	return def
}
