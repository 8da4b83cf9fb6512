// Package caption produces textual descriptions of decoded images.
package caption

import (
	"context"
	"fmt"
	"image"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// Captioner computes a caption for an image.
type Captioner interface {
	Caption(ctx context.Context, img image.Image) (string, error)
}

// NewCaptioner builds the captioner named by captionerType.
func NewCaptioner(captionerType, url string, timeout time.Duration) (Captioner, error) {
	switch captionerType {
	case "", "builtin":
		return NewColorCaptioner(), nil
	case "http":
		if url == "" {
			return nil, fmt.Errorf("http captioner requires a url")
		}
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		return NewHTTPCaptioner(url, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported captioner type: %s", captionerType)
	}
}

// CaptionerFunc adapts a plain function to the Captioner interface.
type CaptionerFunc func(ctx context.Context, img image.Image) (string, error)

func (f CaptionerFunc) Caption(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}
