package api

import (
	"errors"
	"net/http"

	"frontpage/internal/model"
	"frontpage/internal/storage"
)

// HTTPError is an error with a status code and a user-facing message.
type HTTPError struct {
	cause   error
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.cause
}

func newHTTPError(code int, message string, cause error) *HTTPError {
	return &HTTPError{cause: cause, Code: code, Message: message}
}

func errBadRequest(message string) *HTTPError {
	return newHTTPError(http.StatusBadRequest, message, nil)
}

func errUnauthorized() *HTTPError {
	return newHTTPError(http.StatusUnauthorized, "Unauthorized", nil)
}

// toHTTPError maps domain errors onto status codes. Unknown errors are 500.
func toHTTPError(err error) *HTTPError {
	var (
		httpErr  *HTTPError
		valErr   *model.ValidationError
		fetchErr *model.FetchError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr
	case errors.As(err, &valErr):
		return newHTTPError(http.StatusBadRequest, valErr.Error(), err)
	case errors.Is(err, storage.ErrNotFound):
		return newHTTPError(http.StatusNotFound, "Resource not found", err)
	case errors.Is(err, storage.ErrAlreadySubscribed):
		return newHTTPError(http.StatusConflict, "You are already subscribed to this feed.", err)
	case errors.Is(err, storage.ErrCategoryExists):
		return newHTTPError(http.StatusConflict, "Category already exists", err)
	case errors.As(err, &fetchErr):
		if fetchErr.Kind == model.FetchTimeout {
			return newHTTPError(http.StatusBadGateway, "Feed timed out", err)
		}
		return newHTTPError(http.StatusBadGateway, "Failed to fetch feed", err)
	default:
		return newHTTPError(http.StatusInternalServerError, "Internal Server Error", err)
	}
}
