package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no image row matches the requested id.
	ErrNotFound = errors.New("image not found")
	// ErrNotProcessing is returned when a terminal transition targets a row
	// that already left the processing state.
	ErrNotProcessing = errors.New("image is not processing")
)

type DatabaseService interface {
	CreateDatabase() (*sql.DB, error)
	DoesDatabaseExist() bool
	Close() error

	// CreateProcessingImage inserts a processing row together with its files and
	// increments the total counter in a single transaction.
	CreateProcessingImage(ctx context.Context, image *Image, files []*ImageFile) (int64, error)
	// CreateFailedImage records a rejected upload and increments both total and failed.
	CreateFailedImage(ctx context.Context, filename string, processedAt time.Time, reason string) (int64, error)
	CompleteImage(ctx context.Context, id int64, caption string, elapsed time.Duration) error
	FailImage(ctx context.Context, id int64, reason string) error
	FailProcessingImages(ctx context.Context, reason string) (int64, error)

	GetImages(ctx context.Context) ([]*Image, error)
	GetImageByID(ctx context.Context, id int64) (*Image, error)
	GetImageFile(ctx context.Context, id int64, kind FileKind) (*ImageFile, error)
	GetStats(ctx context.Context) (*Stats, error)
}
