package caption

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
)

// maxSamplesPerAxis bounds how many pixels are inspected in each direction.
const maxSamplesPerAxis = 64

type namedColor struct {
	name string
	rgb  [3]float64
}

var palette = []namedColor{
	{name: "black", rgb: [3]float64{0, 0, 0}},
	{name: "white", rgb: [3]float64{255, 255, 255}},
	{name: "gray", rgb: [3]float64{128, 128, 128}},
	{name: "red", rgb: [3]float64{220, 30, 30}},
	{name: "orange", rgb: [3]float64{245, 140, 30}},
	{name: "yellow", rgb: [3]float64{240, 220, 40}},
	{name: "green", rgb: [3]float64{40, 160, 60}},
	{name: "blue", rgb: [3]float64{40, 80, 220}},
	{name: "purple", rgb: [3]float64{130, 50, 170}},
	{name: "pink", rgb: [3]float64{240, 130, 180}},
	{name: "brown", rgb: [3]float64{120, 75, 40}},
}

// ColorCaptioner describes an image by its shape, dominant color and brightness.
// It runs in-process and needs no external model.
type ColorCaptioner struct{}

func NewColorCaptioner() *ColorCaptioner {
	return &ColorCaptioner{}
}

func (c *ColorCaptioner) Caption(ctx context.Context, img image.Image) (string, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return "", fmt.Errorf("cannot caption an empty image")
	}

	stepX := max(w/maxSamplesPerAxis, 1)
	stepY := max(h/maxSamplesPerAxis, 1)

	counts := make([]int, len(palette))
	var luminance float64
	samples := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			r, g, b := rgb8(img.At(x, y))
			counts[nearestColor(r, g, b)]++
			luminance += 0.2126*r + 0.7152*g + 0.0722*b
			samples++
		}
	}

	dominant := 0
	for i, n := range counts {
		if n > counts[dominant] {
			dominant = i
		}
	}

	return fmt.Sprintf("a %s %s image dominated by %s tones",
		brightnessWord(luminance/float64(samples)), shapeWord(w, h), palette[dominant].name), nil
}

func rgb8(c color.Color) (float64, float64, float64) {
	r, g, b, _ := c.RGBA()
	return float64(r >> 8), float64(g >> 8), float64(b >> 8)
}

func nearestColor(r, g, b float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, p := range palette {
		dr, dg, db := r-p.rgb[0], g-p.rgb[1], b-p.rgb[2]
		dist := dr*dr + dg*dg + db*db
		if dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

func shapeWord(w, h int) string {
	ratio := float64(w) / float64(h)
	switch {
	case ratio > 1.2:
		return "wide"
	case ratio < 0.8:
		return "tall"
	default:
		return "square"
	}
}

func brightnessWord(luminance float64) string {
	switch {
	case luminance < 85:
		return "dark"
	case luminance > 170:
		return "bright"
	default:
		return "balanced"
	}
}
