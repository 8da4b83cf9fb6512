package imageprocessing

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrInvalidFormat is returned when an upload is not an accepted image type.
var ErrInvalidFormat = errors.New("invalid file format")

var acceptedSubtypes = map[string]bool{
	"jpeg":    true,
	"jpg":     true,
	"png":     true,
	"gif":     true,
	"bmp":     true,
	"tiff":    true,
	"webp":    true,
	"svg+xml": true,
}

var acceptedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
	".svg":  true,
}

// ValidateUpload checks the declared content type, the filename extension and
// the sniffed content of an upload. It returns the declared subtype.
func ValidateUpload(contentType, filename string, data []byte) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: unparsable content type %q", ErrInvalidFormat, contentType)
	}
	topLevel, subtype, ok := strings.Cut(mediaType, "/")
	if !ok || topLevel != "image" {
		return "", fmt.Errorf("%w: content type %q is not an image", ErrInvalidFormat, mediaType)
	}
	if !acceptedSubtypes[subtype] {
		return "", fmt.Errorf("%w: unsupported image type %q", ErrInvalidFormat, subtype)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !acceptedExtensions[ext] {
		return "", fmt.Errorf("%w: unsupported file extension %q", ErrInvalidFormat, ext)
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: content detected as %s", ErrInvalidFormat, detected.String())
	}
	return subtype, nil
}
