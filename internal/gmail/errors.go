package gmail

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

const invalidFromHeader = "Invalid From header"

// RejectedError reports a message Gmail refused to import. The importer's
// error strategy decides whether to skip it.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("message rejected: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a RejectedError.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// IsThrottled reports whether err is Gmail's per-request 429.
func IsThrottled(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	return false
}

// IsTransient reports whether err is worth retrying with backoff: server
// errors and transport failures.
func IsTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ClassifyImport turns the known "Invalid From header" failure into a
// RejectedError and leaves everything else alone.
func ClassifyImport(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return err
	}
	if mentionsFromHeader(apiErr.Message) {
		return &RejectedError{Reason: invalidFromHeader, Err: err}
	}
	for _, item := range apiErr.Errors {
		if mentionsFromHeader(item.Message) {
			return &RejectedError{Reason: invalidFromHeader, Err: err}
		}
	}
	return err
}

func mentionsFromHeader(msg string) bool {
	return strings.Contains(strings.ToLower(msg), strings.ToLower(invalidFromHeader))
}
