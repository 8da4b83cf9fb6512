package common

import (
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

type testRequest struct {
	ID   int64  `validate:"min=1"`
	Size string `validate:"required"`
}

func TestGenericEchoValidator(t *testing.T) {
	v := &GenericEchoValidator{}

	if err := v.Validate(&testRequest{ID: 1, Size: "small"}); err != nil {
		t.Fatalf("Expected valid request, got %v", err)
	}

	err := v.Validate(&testRequest{ID: 0, Size: "small"})
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("Expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", he.Code)
	}
}

func TestValidateStruct(t *testing.T) {
	if err := ValidateStruct(&testRequest{ID: 3}); err == nil {
		t.Error("Expected error for missing size, got nil")
	}
}
