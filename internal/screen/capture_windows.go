//go:build windows

package screen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// psCapture saves the primary screen to the path given as $args[0].
const psCapture = `Add-Type -AssemblyName System.Windows.Forms,System.Drawing
$b = [System.Windows.Forms.Screen]::PrimaryScreen.Bounds
$bmp = New-Object System.Drawing.Bitmap $b.Width, $b.Height
$g = [System.Drawing.Graphics]::FromImage($bmp)
$g.CopyFromScreen($b.Location, [System.Drawing.Point]::Empty, $b.Size)
$bmp.Save($args[0], [System.Drawing.Imaging.ImageFormat]::Png)
$g.Dispose(); $bmp.Dispose()`

type windowsBackend struct{ tempDir string }

func (w *windowsBackend) captureRaw(ctx context.Context) ([]byte, error) {
	tmpFile := filepath.Join(w.tempDir, "screenshot.png")
	script := "& {" + psCapture + "} '" + strings.ReplaceAll(tmpFile, "'", "''") + "'"
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("powershell capture: %w: %s", err, stderr.String())
	}
	defer os.Remove(tmpFile)
	return os.ReadFile(tmpFile)
}

func (w *windowsBackend) cleanup() {}

// New creates a platform-specific screen capturer
func New() Capturer {
	tmpDir := makeTempDir()
	return newBase(&windowsBackend{tempDir: tmpDir}, tmpDir)
}
