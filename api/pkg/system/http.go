package system

import (
	"net/http"
)

// HTTPError is the JSON body of every error the relay's HTTP endpoints
// return.
type HTTPError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *HTTPError) Error() string {
	return e.Message
}

func NewHTTPError401(message string) *HTTPError {
	return &HTTPError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
	}
}

func NewHTTPError503(message string) *HTTPError {
	return &HTTPError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
	}
}
