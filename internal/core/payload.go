package core

import (
	"fmt"
	"time"

	"github.com/jo-hoe/thumbcaption/internal/backend/database"
	"github.com/jo-hoe/thumbcaption/internal/backend/imageprocessing"
)

const stillProcessingMessage = "Image is still being processed"

type ImagePayload struct {
	Status string    `json:"status"`
	Data   ImageData `json:"data"`
	Error  *string   `json:"error"`
}

// ImageData carries metadata and thumbnails only for successful images;
// both are empty objects otherwise.
type ImageData struct {
	ImageID      int64  `json:"image_id"`
	OriginalName string `json:"original_name"`
	ProcessedAt  string `json:"processed_at"`
	Metadata     any    `json:"metadata"`
	Thumbnails   any    `json:"thumbnails"`
}

type ImageMetadata struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Format    string  `json:"format"`
	Caption   *string `json:"caption"`
	SizeBytes int64   `json:"size_bytes"`
}

type ThumbnailURLs struct {
	Small  string `json:"small"`
	Medium string `json:"medium"`
}

type UploadResult struct {
	ImageID int64  `json:"image_id"`
	Status  string `json:"status"`
	TaskID  string `json:"task_id,omitempty"`
}

func (service *CoreService) newImagePayload(img *database.Image) *ImagePayload {
	payload := &ImagePayload{
		Status: string(img.Status),
		Data: ImageData{
			ImageID:      img.ID,
			OriginalName: img.Filename,
			ProcessedAt:  img.ProcessedAt.UTC().Format(time.RFC3339Nano),
			Metadata:     struct{}{},
			Thumbnails:   struct{}{},
		},
	}

	switch img.Status {
	case database.StatusSuccess:
		payload.Data.Metadata = ImageMetadata{
			Width:     img.Width,
			Height:    img.Height,
			Format:    img.Format,
			Caption:   img.Caption,
			SizeBytes: img.SizeBytes,
		}
		payload.Data.Thumbnails = ThumbnailURLs{
			Small:  service.thumbnailURL(img.ID, imageprocessing.ThumbnailSmall),
			Medium: service.thumbnailURL(img.ID, imageprocessing.ThumbnailMedium),
		}
	case database.StatusProcessing:
		msg := stillProcessingMessage
		payload.Error = &msg
	default:
		payload.Error = img.Error
	}
	return payload
}

func (service *CoreService) thumbnailURL(id int64, size imageprocessing.ThumbnailSize) string {
	return fmt.Sprintf("%s/api/images/%d/thumbnails/%s", service.config.PublicBaseURL, id, size)
}
