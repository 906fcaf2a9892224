//go:build darwin

package screen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

type darwinBackend struct{ tempDir string }

func (d *darwinBackend) captureRaw(ctx context.Context) ([]byte, error) {
	tmpFile := filepath.Join(d.tempDir, "screenshot.png")
	cmd := exec.CommandContext(ctx, "screencapture", "-x", "-t", "png", "-m", tmpFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screencapture: %w: %s", err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

func (d *darwinBackend) cleanup() {}

// New creates a platform-specific screen capturer
func New() Capturer {
	tmpDir := makeTempDir()
	return newBase(&darwinBackend{tempDir: tmpDir}, tmpDir)
}
