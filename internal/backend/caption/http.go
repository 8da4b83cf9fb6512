package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const maxCaptionResponseBytes = 1 << 20

// HTTPCaptioner delegates captioning to an external service. The image is
// posted as a PNG in the multipart field "file" and the service answers with
// {"caption": "..."}.
type HTTPCaptioner struct {
	url    string
	client *http.Client
}

func NewHTTPCaptioner(url string, timeout time.Duration) *HTTPCaptioner {
	return &HTTPCaptioner{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type captionResponse struct {
	Caption string `json:"caption"`
}

func (c *HTTPCaptioner) Caption(ctx context.Context, img image.Image) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(part, img); err != nil {
		return "", fmt.Errorf("failed to encode image for captioner: %w", err)
	}
	if err := writer.WriteField("format", "json"); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("captioner request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("captioner response status=%d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptionResponseBytes+1))
	if err != nil {
		return "", err
	}
	if len(respBody) > maxCaptionResponseBytes {
		return "", fmt.Errorf("captioner response exceeds %d bytes", maxCaptionResponseBytes)
	}
	var parsed captionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("invalid captioner response: %w", err)
	}
	caption := strings.TrimSpace(parsed.Caption)
	if caption == "" {
		return "", fmt.Errorf("captioner returned an empty caption")
	}
	return caption, nil
}
