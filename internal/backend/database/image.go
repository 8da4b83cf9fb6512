package database

import "time"

// Status is the processing state of an uploaded image.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// FileKind names one of the stored artifacts of an image.
type FileKind string

const (
	FileOriginal FileKind = "original"
	FileSmall    FileKind = "small"
	FileMedium   FileKind = "medium"
)

type Image struct {
	ID          int64     `db:"id"`
	Filename    string    `db:"filename"`
	ProcessedAt time.Time `db:"processed_at"`
	Width       int       `db:"width"`
	Height      int       `db:"height"`
	Format      string    `db:"format"`
	SizeBytes   int64     `db:"size"`
	Caption     *string   `db:"caption"`
	Status      Status    `db:"status"`
	Error       *string   `db:"error"`
}

type ImageFile struct {
	ImageID     int64    `db:"image_id"`
	Kind        FileKind `db:"kind"`
	ContentType string   `db:"content_type"`
	Data        []byte   `db:"data"` // raw bytes stored as binary
}

// Stats mirrors the single row of the stats table.
type Stats struct {
	Total     int64   `db:"total"`
	Failed    int64   `db:"failed"`
	TotalTime float64 `db:"total_time"` // seconds spent captioning
}
