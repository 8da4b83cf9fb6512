package imageprocessing

import (
	"errors"
	"testing"
)

func TestValidateUpload(t *testing.T) {
	pngData := encodePNG(t, createTestImage(8, 8))
	jpegData := encodeJPEG(t, createTestImage(8, 8))

	tests := []struct {
		name        string
		contentType string
		filename    string
		data        []byte
		wantSubtype string
		wantErr     bool
	}{
		{name: "png", contentType: "image/png", filename: "cat.png", data: pngData, wantSubtype: "png"},
		{name: "jpeg upper ext", contentType: "image/jpeg", filename: "CAT.JPG", data: jpegData, wantSubtype: "jpeg"},
		{name: "svg", contentType: "image/svg+xml", filename: "logo.svg", data: []byte(testSVG), wantSubtype: "svg+xml"},
		{name: "content type params", contentType: "image/png; charset=binary", filename: "a.png", data: pngData, wantSubtype: "png"},
		{name: "text type", contentType: "text/plain", filename: "notes.txt", data: []byte("hello"), wantErr: true},
		{name: "unsupported subtype", contentType: "image/x-icon", filename: "favicon.ico", data: pngData, wantErr: true},
		{name: "bad extension", contentType: "image/png", filename: "cat.exe", data: pngData, wantErr: true},
		{name: "no extension", contentType: "image/png", filename: "cat", data: pngData, wantErr: true},
		{name: "content is not an image", contentType: "image/png", filename: "cat.png", data: []byte("plain text pretending"), wantErr: true},
		{name: "empty content type", contentType: "", filename: "cat.png", data: pngData, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subtype, err := ValidateUpload(tt.contentType, tt.filename, tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidFormat) {
					t.Errorf("Expected ErrInvalidFormat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if subtype != tt.wantSubtype {
				t.Errorf("Expected subtype %q, got %q", tt.wantSubtype, subtype)
			}
		})
	}
}
