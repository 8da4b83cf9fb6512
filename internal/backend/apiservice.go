package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jo-hoe/thumbcaption/internal/core"
)

const (
	ProbePath = "/probe"
	mimePNG   = "image/png"

	detailInvalidFormat = "Invalid file format"
	detailInvalidImage  = "Invalid image data"
	detailFileTooLarge  = "File too large"
	detailFileNotFound  = "File not found"
	detailInvalidSize   = "Invalid size"
	detailTaskNotFound  = "Task not found"
	detailMissingFile   = "No file uploaded"

	// room for multipart boundaries and part headers around the file
	multipartOverhead = 64 << 10
)

type APIService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

type imageRequest struct {
	ID int64 `param:"id" validate:"min=1"`
}

type thumbnailRequest struct {
	ID   int64  `param:"id" validate:"min=1"`
	Size string `param:"size" validate:"required"`
}

type taskRequest struct {
	ID string `param:"id" validate:"required"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		coreService: coreService,
		config:      config,
	}
}

func (service *APIService) SetRoutes(e *echo.Echo) {
	e.GET(ProbePath, service.probeHandler)

	e.POST("/api/images", service.uploadImageHandler, service.uploadBodyLimit())
	e.GET("/api/images", service.listImagesHandler)
	e.GET("/api/images/:id", service.getImageHandler)
	e.GET("/api/images/:id/thumbnails/:size", service.getThumbnailHandler)
	e.GET("/api/stats", service.getStatsHandler)
	e.GET("/api/tasks/:id", service.getTaskHandler)
}

// uploadBodyLimit rejects request bodies far beyond the upload limit before
// the multipart form is parsed.
func (service *APIService) uploadBodyLimit() echo.MiddlewareFunc {
	return middleware.BodyLimit(fmt.Sprintf("%dB", service.config.Upload.MaxBytes+multipartOverhead))
}

func (service *APIService) probeHandler(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "API Service is running")
}

func (service *APIService) uploadImageHandler(ctx echo.Context) error {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, detailMissingFile)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	// One byte past the limit is enough for the core service to reject the upload.
	data, err := io.ReadAll(io.LimitReader(file, service.config.Upload.MaxBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read uploaded file: %w", err)
	}

	result, err := service.coreService.Upload(ctx.Request().Context(), fileHeader.Filename, fileHeader.Header.Get(echo.HeaderContentType), data)
	switch {
	case err == nil:
		return ctx.JSON(http.StatusAccepted, result)
	case errors.Is(err, core.ErrInvalidFormat):
		return echo.NewHTTPError(http.StatusBadRequest, detailInvalidFormat)
	case errors.Is(err, core.ErrInvalidImage):
		return echo.NewHTTPError(http.StatusBadRequest, detailInvalidImage)
	case errors.Is(err, core.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusBadRequest, detailFileTooLarge)
	default:
		return err
	}
}

func (service *APIService) listImagesHandler(ctx echo.Context) error {
	images, err := service.coreService.ListImages(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, images)
}

func (service *APIService) getImageHandler(ctx echo.Context) error {
	var req imageRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, detailFileNotFound)
	}

	payload, err := service.coreService.GetImage(ctx.Request().Context(), req.ID)
	if errors.Is(err, core.ErrNotFound) {
		return echo.NewHTTPError(http.StatusBadRequest, detailFileNotFound)
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, payload)
}

func (service *APIService) getThumbnailHandler(ctx echo.Context) error {
	var req thumbnailRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, detailFileNotFound)
	}

	data, err := service.coreService.GetThumbnail(ctx.Request().Context(), req.ID, req.Size)
	switch {
	case err == nil:
		return ctx.Blob(http.StatusOK, mimePNG, data)
	case errors.Is(err, core.ErrNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, detailFileNotFound)
	case errors.Is(err, core.ErrInvalidSize):
		return echo.NewHTTPError(http.StatusBadRequest, detailInvalidSize)
	default:
		return err
	}
}

func (service *APIService) getStatsHandler(ctx echo.Context) error {
	stats, err := service.coreService.GetStats(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (service *APIService) getTaskHandler(ctx echo.Context) error {
	var req taskRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, detailTaskNotFound)
	}

	status, ok, err := service.coreService.TaskStatus(ctx.Request().Context(), req.ID)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, detailTaskNotFound)
	}
	return ctx.JSON(http.StatusOK, status)
}

func bindAndValidate(ctx echo.Context, req interface{}) error {
	if err := ctx.Bind(req); err != nil {
		return err
	}
	return ctx.Validate(req)
}

// HTTPErrorHandler renders every error as {"detail": "..."}.
func HTTPErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	detail := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		detail = fmt.Sprint(he.Message)
	} else {
		slog.Error("request failed", "method", ctx.Request().Method, "path", ctx.Path(), "error", err)
	}

	if ctx.Request().Method == http.MethodHead {
		err = ctx.NoContent(code)
	} else {
		err = ctx.JSON(code, map[string]string{"detail": detail})
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}
