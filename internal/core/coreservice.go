package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jo-hoe/thumbcaption/internal/backend/caption"
	"github.com/jo-hoe/thumbcaption/internal/backend/database"
	"github.com/jo-hoe/thumbcaption/internal/backend/imageprocessing"
	"github.com/jo-hoe/thumbcaption/internal/backend/metrics"
	"github.com/jo-hoe/thumbcaption/internal/backend/queue"
)

const (
	invalidFormatReason    = "Invalid file format"
	invalidImageReason     = "Invalid image data"
	fileTooLargeReason     = "File too large"
	interruptedReason      = "processing interrupted"
	pngContentType         = "image/png"
	processingStatusString = string(database.StatusProcessing)
)

var (
	ErrInvalidFormat = imageprocessing.ErrInvalidFormat
	ErrInvalidImage  = imageprocessing.ErrUndecodable
	ErrFileTooLarge  = errors.New("file too large")
	ErrNotFound      = database.ErrNotFound
	ErrInvalidSize   = errors.New("invalid thumbnail size")
)

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	captioner       caption.Captioner
	queue           queue.Queue
	tracker         queue.Tracker
	redisClient     *redis.Client
	metrics         *metrics.Metrics
	now             func() time.Time
}

type Option func(*CoreService)

// WithCaptioner replaces the captioner built from the configuration.
func WithCaptioner(c caption.Captioner) Option {
	return func(service *CoreService) {
		service.captioner = c
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(service *CoreService) {
		service.metrics = m
	}
}

func NewCoreService(config *ServiceConfig, opts ...Option) (*CoreService, error) {
	service := &CoreService{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}

	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}
	service.databaseService = databaseService

	if service.captioner == nil {
		service.captioner, err = caption.NewCaptioner(config.Captioner.Type, config.Captioner.URL, config.Captioner.Timeout)
		if err != nil {
			_ = databaseService.Close()
			return nil, fmt.Errorf("failed to initialize captioner: %w", err)
		}
	}

	if config.needsRedis() {
		service.redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Queue.Redis.Addr,
			Password: config.Queue.Redis.Password,
			DB:       config.Queue.Redis.DB,
		})
	}

	if config.TaskTracker.Backend == BackendRedis {
		service.tracker = queue.NewRedisTracker(service.redisClient, config.TaskTracker.TTL)
	} else {
		service.tracker = queue.NewMemoryTracker()
	}

	switch config.Queue.Backend {
	case BackendAsynq:
		service.queue = queue.NewAsynqQueue(service.processCaptionJob, queue.AsynqQueueOptions{
			RedisAddr:     config.Queue.Redis.Addr,
			RedisPassword: config.Queue.Redis.Password,
			RedisDB:       config.Queue.Redis.DB,
			QueueName:     config.Queue.QueueName,
			Workers:       config.Queue.Workers,
			Tracker:       service.tracker,
			Metrics:       service.metrics,
		})
	default:
		service.queue = queue.NewMemoryQueue(service.processCaptionJob, queue.MemoryQueueOptions{
			Workers:  config.Queue.Workers,
			Capacity: config.Queue.Capacity,
			Tracker:  service.tracker,
			Metrics:  service.metrics,
		})
	}

	slog.Info("core service initialized",
		"captioner", config.Captioner.Type,
		"queue_backend", config.Queue.Backend,
		"task_tracker", config.TaskTracker.Backend)
	return service, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

// Start finalises rows orphaned by a previous in-process run and starts the caption workers.
func (service *CoreService) Start(ctx context.Context) error {
	if service.config.Queue.Backend == BackendMemory {
		n, err := service.databaseService.FailProcessingImages(ctx, interruptedReason)
		if err != nil {
			return fmt.Errorf("failed to recover interrupted images: %w", err)
		}
		if n > 0 {
			slog.Warn("marked interrupted images as failed", "count", n)
		}
	}
	return service.queue.Start(ctx)
}

// Close drains the caption queue and releases storage and Redis connections.
func (service *CoreService) Close(ctx context.Context) error {
	var errs []error
	if err := service.queue.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop caption queue: %w", err))
	}
	if service.redisClient != nil {
		if err := service.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	if err := service.databaseService.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}

// Upload validates and stores an image, then schedules its caption. Rejected
// uploads are recorded as failed images before the error is returned.
func (service *CoreService) Upload(ctx context.Context, filename, contentType string, data []byte) (*UploadResult, error) {
	processedAt := service.now()

	if int64(len(data)) > service.config.Upload.MaxBytes {
		return nil, service.rejectUpload(ctx, filename, processedAt, fileTooLargeReason,
			fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, len(data), service.config.Upload.MaxBytes))
	}

	subtype, err := imageprocessing.ValidateUpload(contentType, filename, data)
	if err != nil {
		return nil, service.rejectUpload(ctx, filename, processedAt, invalidFormatReason, err)
	}

	decoded, err := imageprocessing.Decode(data, service.config.Upload.MaxPixels)
	if err != nil {
		return nil, service.rejectUpload(ctx, filename, processedAt, invalidImageReason, err)
	}
	thumbnails, err := imageprocessing.GenerateThumbnails(decoded.Image)
	if err != nil {
		return nil, service.rejectUpload(ctx, filename, processedAt, invalidImageReason,
			fmt.Errorf("%w: %v", ErrInvalidImage, err))
	}

	record := &database.Image{
		Filename:    filename,
		ProcessedAt: processedAt,
		Width:       decoded.Width(),
		Height:      decoded.Height(),
		Format:      subtype,
		SizeBytes:   int64(len(data)),
	}
	files := []*database.ImageFile{
		{Kind: database.FileOriginal, ContentType: "image/" + subtype, Data: data},
		{Kind: database.FileSmall, ContentType: pngContentType, Data: thumbnails[imageprocessing.ThumbnailSmall]},
		{Kind: database.FileMedium, ContentType: pngContentType, Data: thumbnails[imageprocessing.ThumbnailMedium]},
	}
	id, err := service.databaseService.CreateProcessingImage(ctx, record, files)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	job := queue.NewJob(id)
	result := &UploadResult{ImageID: id, Status: processingStatusString, TaskID: job.ID}
	if err := service.queue.Enqueue(ctx, job); err != nil {
		slog.Warn("caption job rejected", "image_id", id, "job_id", job.ID, "error", err)
		if failErr := service.databaseService.FailImage(context.WithoutCancel(ctx), id, err.Error()); failErr != nil {
			slog.Error("failed to mark rejected image as failed", "image_id", id, "error", failErr)
		}
		service.metrics.ObserveUpload("rejected")
		result.Status = string(database.StatusFailed)
		return result, nil
	}

	service.metrics.ObserveUpload("accepted")
	slog.Info("image accepted", "image_id", id, "filename", filename, "format", subtype, "job_id", job.ID)
	return result, nil
}

func (service *CoreService) rejectUpload(ctx context.Context, filename string, processedAt time.Time, reason string, cause error) error {
	slog.Warn("image upload rejected", "filename", filename, "reason", reason, "error", cause)
	service.metrics.ObserveUpload("invalid")
	if _, err := service.databaseService.CreateFailedImage(ctx, filename, processedAt, reason); err != nil {
		return fmt.Errorf("failed to record rejected upload: %w", err)
	}
	return cause
}

// processCaptionJob is the queue handler. Every error, panics included,
// finalises the image as failed.
func (service *CoreService) processCaptionJob(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("caption panic: %v", r)
		}
		if err != nil && !errors.Is(err, database.ErrNotProcessing) {
			if failErr := service.databaseService.FailImage(context.WithoutCancel(ctx), job.ImageID, err.Error()); failErr != nil {
				slog.Error("failed to mark image as failed", "image_id", job.ImageID, "error", failErr)
			}
		}
	}()

	original, err := service.databaseService.GetImageFile(ctx, job.ImageID, database.FileOriginal)
	if err != nil {
		return fmt.Errorf("failed to load original image %d: %w", job.ImageID, err)
	}
	decoded, err := imageprocessing.Decode(original.Data, service.config.Upload.MaxPixels)
	if err != nil {
		return err
	}
	text, err := service.captioner.Caption(ctx, decoded.Image)
	if err != nil {
		return fmt.Errorf("caption failed: %w", err)
	}

	elapsed := time.Since(job.EnqueuedAt)
	if err := service.databaseService.CompleteImage(ctx, job.ImageID, text, elapsed); err != nil {
		return fmt.Errorf("failed to store caption for image %d: %w", job.ImageID, err)
	}
	slog.Info("image captioned", "image_id", job.ImageID, "elapsed_seconds", elapsed.Seconds())
	return nil
}

func (service *CoreService) ListImages(ctx context.Context) ([]*ImagePayload, error) {
	images, err := service.databaseService.GetImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	payloads := make([]*ImagePayload, 0, len(images))
	for _, img := range images {
		payloads = append(payloads, service.newImagePayload(img))
	}
	return payloads, nil
}

func (service *CoreService) GetImage(ctx context.Context, id int64) (*ImagePayload, error) {
	img, err := service.databaseService.GetImageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return service.newImagePayload(img), nil
}

// GetThumbnail returns the PNG bytes of a thumbnail. The image is looked up
// before the size is checked, so an unknown id wins over an invalid size.
func (service *CoreService) GetThumbnail(ctx context.Context, id int64, rawSize string) ([]byte, error) {
	if _, err := service.databaseService.GetImageByID(ctx, id); err != nil {
		return nil, err
	}
	size, err := imageprocessing.ParseThumbnailSize(rawSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}

	kind := database.FileSmall
	if size == imageprocessing.ThumbnailMedium {
		kind = database.FileMedium
	}
	file, err := service.databaseService.GetImageFile(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	return file.Data, nil
}

func (service *CoreService) GetStats(ctx context.Context) (*StatsPayload, error) {
	stats, err := service.databaseService.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	return newStatsPayload(stats), nil
}

// TaskStatus reports the tracked state of a caption job.
func (service *CoreService) TaskStatus(ctx context.Context, jobID string) (*queue.TaskStatus, bool, error) {
	return service.tracker.GetState(ctx, jobID)
}
