package api

import (
	"errors"
	"fmt"
	"net/http"
)

// GenericMessage is shown when neither the server nor the transport offers
// anything more specific.
const GenericMessage = "Something went wrong, please try again."

// APIError is returned for every failed call. Status is zero when the
// request never produced a response.
type APIError struct {
	Status  int
	Message string
	err     error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// IsUnauthorized reports whether err (or any error in its chain) is an
// APIError with status 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// Message returns the human-readable text of err, preferring an APIError's
// message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
