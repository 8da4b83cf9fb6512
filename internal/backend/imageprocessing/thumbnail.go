package imageprocessing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"strings"

	"golang.org/x/image/draw"
)

// ThumbnailSize is one of the fixed thumbnail resolutions.
type ThumbnailSize string

const (
	ThumbnailSmall  ThumbnailSize = "small"
	ThumbnailMedium ThumbnailSize = "medium"
)

// ThumbnailSizes lists every supported size in generation order.
var ThumbnailSizes = []ThumbnailSize{ThumbnailSmall, ThumbnailMedium}

var thumbnailDimensions = map[ThumbnailSize]image.Point{
	ThumbnailSmall:  {X: 75, Y: 75},
	ThumbnailMedium: {X: 100, Y: 100},
}

// ParseThumbnailSize resolves a size name case-insensitively.
func ParseThumbnailSize(raw string) (ThumbnailSize, error) {
	size := ThumbnailSize(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := thumbnailDimensions[size]; !ok {
		return "", fmt.Errorf("invalid thumbnail size %q", raw)
	}
	return size, nil
}

// Dimensions returns the exact width and height of the size.
func (s ThumbnailSize) Dimensions() (int, int) {
	p := thumbnailDimensions[s]
	return p.X, p.Y
}

// ThumbnailCommand scales an image into a fixed-size PNG canvas while preserving aspect ratio
type ThumbnailCommand struct {
	width  int
	height int
}

// NewThumbnailCommand creates a thumbnail command for the given size
func NewThumbnailCommand(size ThumbnailSize) (*ThumbnailCommand, error) {
	dims, ok := thumbnailDimensions[size]
	if !ok {
		return nil, fmt.Errorf("invalid thumbnail size %q", size)
	}
	return &ThumbnailCommand{width: dims.X, height: dims.Y}, nil
}

// Execute renders img centered on a white canvas of the command's exact size.
// Images smaller than the canvas are not upscaled.
func (c *ThumbnailCommand) Execute(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	originalWidth := bounds.Dx()
	originalHeight := bounds.Dy()
	if originalWidth <= 0 || originalHeight <= 0 {
		return nil, fmt.Errorf("cannot create thumbnail from empty image")
	}

	scale := min(
		float64(c.width)/float64(originalWidth),
		float64(c.height)/float64(originalHeight),
		1.0,
	)
	scaledWidth := max(int(float64(originalWidth)*scale), 1)
	scaledHeight := max(int(float64(originalHeight)*scale), 1)

	// Calculate position to center the scaled image
	offsetX := (c.width - scaledWidth) / 2
	offsetY := (c.height - scaledHeight) / 2

	slog.Debug("ThumbnailCommand: scaling image",
		"original_width", originalWidth,
		"original_height", originalHeight,
		"scaled_width", scaledWidth,
		"scaled_height", scaledHeight,
		"target_width", c.width,
		"target_height", c.height)

	canvas := newCanvas(c.width, c.height, color.White)
	target := image.Rect(offsetX, offsetY, offsetX+scaledWidth, offsetY+scaledHeight)
	draw.CatmullRom.Scale(canvas, target, img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// GenerateThumbnails builds every supported thumbnail for img.
func GenerateThumbnails(img image.Image) (map[ThumbnailSize][]byte, error) {
	thumbnails := make(map[ThumbnailSize][]byte, len(ThumbnailSizes))
	for _, size := range ThumbnailSizes {
		command, err := NewThumbnailCommand(size)
		if err != nil {
			return nil, err
		}
		data, err := command.Execute(img)
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s thumbnail: %w", size, err)
		}
		thumbnails[size] = data
	}
	return thumbnails, nil
}
