package errors

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/affiliate-engine/pkg/logger"
	"github.com/jordanlanch/affiliate-engine/pkg/models"
	"github.com/labstack/echo/v4"
)

var log = logger.Nop()

// SetLogger sets where internal error details are logged
func SetLogger(l logger.Logger) {
	if l != nil {
		log = l
	}
}

// ValidationError returns a generic validation error without exposing internal details
func ValidationError(c echo.Context, err error) error {
	log.Warn("validation error", "path", c.Request().URL.Path, "error", err)

	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: "Invalid request data. Please check your input and try again.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	log.Error("internal error", "path", c.Request().URL.Path, "error", err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// UnauthorizedError returns a generic unauthorized error
func UnauthorizedError(c echo.Context, reason string) error {
	log.Debug("unauthorized", "path", c.Request().URL.Path, "reason", reason)

	return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: "You are not authorized to access this resource.",
	})
}

// NotFoundError returns a generic not found error
func NotFoundError(c echo.Context, resource string) error {
	log.Debug("not found", "path", c.Request().URL.Path, "resource", resource)

	return c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:   "not_found",
		Message: "The requested resource was not found.",
	})
}

// ConflictError returns a conflict error. The message is shown to the caller.
func ConflictError(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, models.ErrorResponse{
		Error:   "conflict",
		Message: message,
	})
}

// UnprocessableError reports a request that is well formed but cannot be acted on
func UnprocessableError(c echo.Context, code, message string) error {
	return c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// UnavailableError reports a collaborator lookup failure. The caller may retry.
func UnavailableError(c echo.Context, err error) error {
	log.Warn("dependency unavailable", "path", c.Request().URL.Path, "error", err)

	c.Response().Header().Set("Retry-After", "30")
	return c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
		Error:   "dependency_unavailable",
		Message: "A dependency is temporarily unavailable. Please retry later.",
	})
}

// FromError writes the response matching an engine error
func FromError(c echo.Context, err error) error {
	var (
		transitionErr *models.InvalidTransitionError
		lookupErr     *models.ExternalLookupError
		configErr     *models.ConfigurationError
		validationErr validator.ValidationErrors
	)

	switch {
	case errors.Is(err, models.ErrNotFound):
		return NotFoundError(c, "resource")
	case errors.Is(err, models.ErrDuplicate):
		return ConflictError(c, "The resource already exists.")
	case errors.As(err, &transitionErr):
		return ConflictError(c, transitionErr.Error())
	case errors.As(err, &lookupErr):
		return UnavailableError(c, err)
	case errors.As(err, &configErr):
		return UnprocessableError(c, "program_not_configured", configErr.Error())
	case errors.As(err, &validationErr), errors.Is(err, models.ErrInvalid):
		return ValidationError(c, err)
	}
	return InternalError(c, err)
}
