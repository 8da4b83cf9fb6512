package imageprocessing

import (
	"bytes"
	"image/png"
	"testing"
)

func TestParseThumbnailSize(t *testing.T) {
	tests := []struct {
		input   string
		want    ThumbnailSize
		wantErr bool
	}{
		{input: "small", want: ThumbnailSmall},
		{input: "medium", want: ThumbnailMedium},
		{input: "MEDIUM", want: ThumbnailMedium},
		{input: " Small ", want: ThumbnailSmall},
		{input: "large", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseThumbnailSize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestThumbnailCommand_ExactDimensions(t *testing.T) {
	sources := []struct {
		name          string
		width, height int
	}{
		{name: "landscape", width: 640, height: 480},
		{name: "portrait", width: 300, height: 900},
		{name: "square", width: 500, height: 500},
		{name: "smaller than target", width: 40, height: 20},
		{name: "single pixel row", width: 1000, height: 1},
	}
	sizes := []struct {
		size          ThumbnailSize
		width, height int
	}{
		{size: ThumbnailSmall, width: 75, height: 75},
		{size: ThumbnailMedium, width: 100, height: 100},
	}

	for _, src := range sources {
		for _, sz := range sizes {
			t.Run(src.name+"/"+string(sz.size), func(t *testing.T) {
				command, err := NewThumbnailCommand(sz.size)
				if err != nil {
					t.Fatalf("Failed to create command: %v", err)
				}
				data, err := command.Execute(createTestImage(src.width, src.height))
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				out, err := png.Decode(bytes.NewReader(data))
				if err != nil {
					t.Fatalf("Thumbnail is not a valid PNG: %v", err)
				}
				if out.Bounds().Dx() != sz.width || out.Bounds().Dy() != sz.height {
					t.Errorf("Expected %dx%d, got %dx%d", sz.width, sz.height, out.Bounds().Dx(), out.Bounds().Dy())
				}
			})
		}
	}
}

func TestThumbnailCommand_DoesNotUpscale(t *testing.T) {
	command, err := NewThumbnailCommand(ThumbnailMedium)
	if err != nil {
		t.Fatalf("Failed to create command: %v", err)
	}
	data, err := command.Execute(createTestImage(10, 10))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	out, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Thumbnail is not a valid PNG: %v", err)
	}

	// The 10x10 source is centered; the corner stays background white.
	r, g, b, _ := out.At(0, 0).RGBA()
	if r != 0xffff || g != 0xffff || b != 0xffff {
		t.Errorf("Expected white corner, got (%d,%d,%d)", r, g, b)
	}
}

func TestNewThumbnailCommand_InvalidSize(t *testing.T) {
	if _, err := NewThumbnailCommand("huge"); err == nil {
		t.Fatal("Expected error for unknown size, got nil")
	}
}

func TestGenerateThumbnails(t *testing.T) {
	thumbnails, err := GenerateThumbnails(createTestImage(320, 200))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(thumbnails) != 2 {
		t.Fatalf("Expected 2 thumbnails, got %d", len(thumbnails))
	}
	for _, size := range ThumbnailSizes {
		data, ok := thumbnails[size]
		if !ok {
			t.Fatalf("Missing %s thumbnail", size)
		}
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("Failed to decode %s thumbnail: %v", size, err)
		}
		w, h := size.Dimensions()
		if cfg.Width != w || cfg.Height != h {
			t.Errorf("%s: expected %dx%d, got %dx%d", size, w, h, cfg.Width, cfg.Height)
		}
	}
}
