package imageprocessing

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// svgFallbackSize is used for SVG documents without a usable viewBox.
const svgFallbackSize = 512

// DefaultMaxPixels bounds the decoded size of an image when no limit is configured.
const DefaultMaxPixels int64 = 40_000_000

const svgMIME = "image/svg+xml"

var (
	// ErrUndecodable is returned when the uploaded bytes cannot be decoded as an image.
	ErrUndecodable = errors.New("invalid image data")
	// ErrTooManyPixels is returned when the declared dimensions exceed the pixel limit.
	ErrTooManyPixels = fmt.Errorf("%w: image dimensions exceed limit", ErrUndecodable)
)

// DecodedImage is an uploaded image decoded into memory.
type DecodedImage struct {
	Image  image.Image
	Format string
}

func (d *DecodedImage) Width() int {
	return d.Image.Bounds().Dx()
}

func (d *DecodedImage) Height() int {
	return d.Image.Bounds().Dy()
}

// Decode decodes raster images with the registered decoders and rasterizes SVG
// documents. The dimensions are checked against maxPixels before any pixel
// buffer is allocated; maxPixels <= 0 selects DefaultMaxPixels.
func Decode(data []byte, maxPixels int64) (*DecodedImage, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	if IsSVG(data) {
		img, err := rasterizeSVG(data, maxPixels)
		if err != nil {
			slog.Warn("Decode: failed to rasterize SVG", "error", err)
			if errors.Is(err, ErrUndecodable) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
		}
		return &DecodedImage{Image: img, Format: "svg"}, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		slog.Warn("Decode: failed to read image header", "input_size_bytes", len(data), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		slog.Warn("Decode: image too large", "format", format, "width", cfg.Width, "height", cfg.Height)
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("Decode: failed to decode image", "input_size_bytes", len(data), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	slog.Debug("Decode: decoded raster image",
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())
	return &DecodedImage{Image: img, Format: format}, nil
}

// IsSVG reports whether the sniffed content type of data is SVG.
func IsSVG(data []byte) bool {
	return mimetype.Detect(data).Is(svgMIME)
}

func checkPixels(w, h int, maxPixels int64) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: empty dimensions %dx%d", ErrUndecodable, w, h)
	}
	if int64(w)*int64(h) > maxPixels {
		return fmt.Errorf("%w: %dx%d is more than %d pixels", ErrTooManyPixels, w, h, maxPixels)
	}
	return nil
}

// rasterizeSVG renders an SVG document at its viewBox size onto a white canvas.
func rasterizeSVG(data []byte, maxPixels int64) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SVG: %w", err)
	}

	if icon.ViewBox.W*icon.ViewBox.H > float64(maxPixels) {
		return nil, fmt.Errorf("%w: viewBox %.0fx%.0f is more than %d pixels", ErrTooManyPixels, icon.ViewBox.W, icon.ViewBox.H, maxPixels)
	}
	w := int(math.Round(icon.ViewBox.W))
	h := int(math.Round(icon.ViewBox.H))
	if w <= 0 || h <= 0 {
		w, h = svgFallbackSize, svgFallbackSize
	}
	if err := checkPixels(w, h, maxPixels); err != nil {
		return nil, err
	}
	icon.SetTarget(0, 0, float64(w), float64(h))

	dst := newCanvas(w, h, color.White)
	scanner := rasterx.NewScannerGV(w, h, dst, dst.Bounds())
	dasher := rasterx.NewDasher(w, h, scanner)
	icon.Draw(dasher, 1.0)
	return dst, nil
}

// newCanvas creates an RGBA image filled with the given background color.
func newCanvas(w, h int, background color.Color) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	return canvas
}
