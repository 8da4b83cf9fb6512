package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jo-hoe/thumbcaption/internal/backend/caption"
	"github.com/jo-hoe/thumbcaption/internal/common"
	"github.com/jo-hoe/thumbcaption/internal/core"
)

func newTestServer(t *testing.T, mutators ...func(*core.ServiceConfig)) *echo.Echo {
	t.Helper()
	config := &core.ServiceConfig{
		PublicBaseURL: "http://test.local",
		Database: core.Database{
			Type:             "sqlite",
			ConnectionString: ":memory:",
		},
	}
	config.ApplyDefaults()
	for _, mutate := range mutators {
		mutate(config)
	}

	captioner := caption.CaptionerFunc(func(ctx context.Context, img image.Image) (string, error) {
		return "a test image", nil
	})
	coreService, err := core.NewCoreService(config, core.WithCaptioner(captioner))
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	if err := coreService.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coreService.Close(ctx)
	})

	e := echo.New()
	e.Validator = &common.GenericEchoValidator{}
	e.HTTPErrorHandler = HTTPErrorHandler
	NewAPIService(config, coreService).SetRoutes(e)
	return e
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{G: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode error: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart error: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part error: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("multipart close error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/images", &body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	return serve(e, httptest.NewRequest(http.MethodGet, path, nil))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
}

func assertDetail(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["detail"] != want {
		t.Errorf("Expected detail %q, got %q", want, body["detail"])
	}
}

func getStats(t *testing.T, e *echo.Echo) map[string]any {
	t.Helper()
	rec := get(e, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var stats map[string]any
	decodeJSON(t, rec, &stats)
	return stats
}

func waitForImageStatus(t *testing.T, e *echo.Echo, path, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec := get(e, path)
		var payload map[string]any
		decodeJSON(t, rec, &payload)
		if payload["status"] == want {
			return payload
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s did not reach status %q", path, want)
	return nil
}

func TestProbe(t *testing.T) {
	e := newTestServer(t)
	rec := get(e, ProbePath)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}

func TestUploadValidImage(t *testing.T) {
	e := newTestServer(t)

	rec := serve(e, uploadRequest(t, "green.png", "image/png", testPNG(t, 120, 60)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d (%s)", rec.Code, rec.Body.String())
	}
	var result map[string]any
	decodeJSON(t, rec, &result)
	if result["image_id"] != float64(1) || result["status"] != "processing" {
		t.Errorf("unexpected upload response: %v", result)
	}

	stats := getStats(t, e)
	if stats["total"] != float64(1) || stats["failed"] != float64(0) {
		t.Errorf("Expected total=1 failed=0, got %v", stats)
	}

	payload := waitForImageStatus(t, e, "/api/images/1", "success")
	if payload["error"] != nil {
		t.Errorf("Expected null error, got %v", payload["error"])
	}
	data := payload["data"].(map[string]any)
	if data["original_name"] != "green.png" {
		t.Errorf("Expected original_name green.png, got %v", data["original_name"])
	}
	metadata := data["metadata"].(map[string]any)
	if metadata["caption"] != "a test image" || metadata["width"] != float64(120) || metadata["height"] != float64(60) {
		t.Errorf("unexpected metadata: %v", metadata)
	}
	thumbnails := data["thumbnails"].(map[string]any)
	if thumbnails["medium"] != "http://test.local/api/images/1/thumbnails/medium" {
		t.Errorf("unexpected medium thumbnail url: %v", thumbnails["medium"])
	}

	taskRec := get(e, "/api/tasks/"+result["task_id"].(string))
	if taskRec.Code != http.StatusOK {
		t.Errorf("Expected task status 200, got %d", taskRec.Code)
	}
}

func TestUploadInvalidType(t *testing.T) {
	e := newTestServer(t)

	rec := serve(e, uploadRequest(t, "notes.txt", "text/plain", []byte("not an image")))
	assertDetail(t, rec, "Invalid file format")

	stats := getStats(t, e)
	if stats["total"] != float64(1) || stats["failed"] != float64(1) {
		t.Errorf("Expected total=1 failed=1, got %v", stats)
	}
	if stats["success_rate"] != "0.0%" {
		t.Errorf("Expected success_rate 0.0%%, got %v", stats["success_rate"])
	}

	listRec := get(e, "/api/images")
	var images []map[string]any
	decodeJSON(t, listRec, &images)
	if len(images) != 1 || images[0]["status"] != "failed" || images[0]["error"] != "Invalid file format" {
		t.Errorf("unexpected image list: %v", images)
	}
}

func TestUploadUndecodableImage(t *testing.T) {
	e := newTestServer(t)
	data := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x02}, 32)...)
	rec := serve(e, uploadRequest(t, "broken.png", "image/png", data))
	assertDetail(t, rec, "Invalid image data")
}

func TestUploadMissingFile(t *testing.T) {
	e := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/images", nil)
	assertDetail(t, serve(e, req), "No file uploaded")
}

func TestStatsEmpty(t *testing.T) {
	e := newTestServer(t)
	stats := getStats(t, e)
	if stats["total"] != float64(0) || stats["success_rate"] != nil || stats["average_processing_time_seconds"] != float64(0) {
		t.Errorf("unexpected empty stats: %v", stats)
	}
}

func TestGetImageNotFound(t *testing.T) {
	e := newTestServer(t)
	for _, path := range []string{"/api/images/42", "/api/images/abc", "/api/images/0"} {
		t.Run(path, func(t *testing.T) {
			assertDetail(t, get(e, path), "File not found")
		})
	}
}

func TestGetThumbnail(t *testing.T) {
	e := newTestServer(t)
	rec := serve(e, uploadRequest(t, "green.png", "image/png", testPNG(t, 40, 200)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/images/1/thumbnails/small", 75},
		{"/api/images/1/thumbnails/Medium", 100},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(e, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d (%s)", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
				t.Errorf("Expected content type image/png, got %s", ct)
			}
			img, err := png.Decode(rec.Body)
			if err != nil {
				t.Fatalf("response is not a png: %v", err)
			}
			if img.Bounds().Dx() != tt.want || img.Bounds().Dy() != tt.want {
				t.Errorf("Expected %dx%d, got %dx%d", tt.want, tt.want, img.Bounds().Dx(), img.Bounds().Dy())
			}
		})
	}

	t.Run("invalid size", func(t *testing.T) {
		assertDetail(t, get(e, "/api/images/1/thumbnails/large"), "Invalid size")
	})
	t.Run("unknown id", func(t *testing.T) {
		assertDetail(t, get(e, "/api/images/99/thumbnails/small"), "File not found")
	})
	t.Run("unknown id and invalid size", func(t *testing.T) {
		assertDetail(t, get(e, "/api/images/99/thumbnails/large"), "File not found")
	})
}

func TestGetTaskNotFound(t *testing.T) {
	e := newTestServer(t)
	assertDetail(t, get(e, "/api/tasks/does-not-exist"), "Task not found")
}

func TestUploadBodyLimit(t *testing.T) {
	e := newTestServer(t, func(config *core.ServiceConfig) {
		config.Upload.MaxBytes = 1024
	})

	t.Run("body far beyond limit", func(t *testing.T) {
		data := bytes.Repeat([]byte{0x01}, 1024+multipartOverhead+1)
		rec := serve(e, uploadRequest(t, "huge.png", "image/png", data))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("Expected status 413, got %d (%s)", rec.Code, rec.Body.String())
		}
		var body map[string]string
		decodeJSON(t, rec, &body)
		if body["detail"] == "" {
			t.Errorf("Expected a detail message, got %v", body)
		}
		stats := getStats(t, e)
		if stats["total"] != float64(0) {
			t.Errorf("Expected no stored images, got %v", stats)
		}
	})

	t.Run("file just over limit", func(t *testing.T) {
		data := bytes.Repeat([]byte{0x01}, 1025)
		assertDetail(t, serve(e, uploadRequest(t, "big.png", "image/png", data)), "File too large")
	})
}
