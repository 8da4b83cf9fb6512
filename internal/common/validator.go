package common

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// ValidateStruct checks the `validate` tags of s.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

type GenericEchoValidator struct{}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	if err := ValidateStruct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request: %v", err))
	}
	return nil
}
