package ocr

import "time"

const (
	DefaultTesseractPath = "tesseract"
	DefaultMagickPath    = "convert"
	DefaultTimeout       = 10 * time.Second
)

// enhanceArgs keeps only the panel text colour band and inverts it so
// tesseract sees dark text on white.
var enhanceArgs = []string{
	"fd:0",
	"-color-threshold", "sRGB(149,127,86)-sRGB(209,187,146)",
	"-negate",
	"fd:1",
}
