// Package imageproc holds the pure image transforms used by post-processing
// and the derived-asset pipeline. Every function takes encoded bytes and
// returns newly encoded bytes; inputs are never modified.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// Output formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// ErrInvalidSize is returned for non-positive target dimensions
var ErrInvalidSize = errors.New("invalid target size")

// Decode parses encoded image bytes
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Encode writes img in the given format
func Encode(img image.Image, format string) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)

	switch normalizeFormat(format) {
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90))
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(-3))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}

	return buf.Bytes(), nil
}

// ContentType returns the MIME type for a format
func ContentType(format string) string {
	switch f := normalizeFormat(format); f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "image/" + f
	}
}

// Extension returns the file extension, dot included, for a format
func Extension(format string) string {
	if f := normalizeFormat(format); f != FormatJPEG {
		return "." + f
	}
	return ".jpg"
}

// Format reports the encoding of data as detected from its header
func Format(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to detect image format: %w", err)
	}
	return normalizeFormat(format), nil
}

// Dimensions returns the pixel size of an encoded image
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Resize scales and center-crops to exactly width x height, encoded as PNG
func Resize(data []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}

	src, err := Decode(data)
	if err != nil {
		return nil, err
	}

	return Encode(imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos), FormatPNG)
}

// Fit scales down to fit within maxWidth x maxHeight keeping aspect ratio.
// Images already inside the box are only re-encoded.
func Fit(data []byte, maxWidth, maxHeight int, format string) ([]byte, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, maxWidth, maxHeight)
	}

	src, err := Decode(data)
	if err != nil {
		return nil, err
	}

	return Encode(imaging.Fit(src, maxWidth, maxHeight, imaging.Lanczos), format)
}

// Reformat re-encodes data in another format
func Reformat(data []byte, format string) ([]byte, error) {
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if normalizeFormat(format) == FormatJPEG {
		// JPEG has no alpha; flatten onto white
		bg := imaging.New(src.Bounds().Dx(), src.Bounds().Dy(), color.White)
		src = imaging.Overlay(bg, src, image.Pt(0, 0), 1.0)
	}

	return Encode(src, format)
}

// Grayscale returns a grayscale PNG of data
func Grayscale(data []byte) ([]byte, error) {
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Encode(imaging.Grayscale(src), FormatPNG)
}

// Invert returns a color-inverted PNG of data
func Invert(data []byte) ([]byte, error) {
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Encode(imaging.Invert(src), FormatPNG)
}

// RemoveBackground makes transparent every pixel within tolerance of the
// background color, estimated as the average of the four corner pixels.
// tolerance is a per-channel distance in [0, 255].
func RemoveBackground(data []byte, tolerance uint8) ([]byte, error) {
	src, err := Decode(data)
	if err != nil {
		return nil, err
	}

	img := imaging.Clone(src)
	bounds := img.Bounds()
	if bounds.Dx() < 2 || bounds.Dy() < 2 {
		return Encode(img, FormatPNG)
	}

	bg := cornerAverage(img)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.NRGBAAt(x, y)
			if near(c, bg, tolerance) {
				img.SetNRGBA(x, y, color.NRGBA{})
			}
		}
	}

	return Encode(img, FormatPNG)
}

// Solid renders a width x height PNG filled with c
func Solid(width, height int, c color.Color) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	return Encode(imaging.New(width, height, c), FormatPNG)
}

func cornerAverage(img *image.NRGBA) color.NRGBA {
	b := img.Bounds()
	corners := []color.NRGBA{
		img.NRGBAAt(b.Min.X, b.Min.Y),
		img.NRGBAAt(b.Max.X-1, b.Min.Y),
		img.NRGBAAt(b.Min.X, b.Max.Y-1),
		img.NRGBAAt(b.Max.X-1, b.Max.Y-1),
	}

	var r, g, bl, a int
	for _, c := range corners {
		r += int(c.R)
		g += int(c.G)
		bl += int(c.B)
		a += int(c.A)
	}
	n := len(corners)
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: uint8(a / n)}
}

func near(c, bg color.NRGBA, tolerance uint8) bool {
	return absDiff(c.R, bg.R) <= tolerance &&
		absDiff(c.G, bg.G) <= tolerance &&
		absDiff(c.B, bg.B) <= tolerance
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

func normalizeFormat(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png", "":
		return FormatPNG
	default:
		return strings.ToLower(format)
	}
}
