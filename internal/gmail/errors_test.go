package gmail

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestIsThrottled(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"wrapped 429", fmt.Errorf("search: %w", &googleapi.Error{Code: http.StatusTooManyRequests}), true},
		{"500", &googleapi.Error{Code: http.StatusInternalServerError}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if got := IsThrottled(tc.err); got != tc.want {
				t.Fatalf("IsThrottled(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"503", &googleapi.Error{Code: http.StatusServiceUnavailable}, true},
		{"400", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"429", &googleapi.Error{Code: http.StatusTooManyRequests}, false},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyImport(t *testing.T) {
	fromErr := &googleapi.Error{Code: http.StatusBadRequest, Message: "Invalid From header"}
	err := ClassifyImport(fmt.Errorf("import: %w", fromErr))
	if !IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("rejection should unwrap to the api error")
	}

	nested := &googleapi.Error{Code: http.StatusBadRequest, Errors: []googleapi.ErrorItem{{Message: "invalid from header"}}}
	if !IsRejected(ClassifyImport(nested)) {
		t.Fatalf("expected rejection from error items")
	}

	other := &googleapi.Error{Code: http.StatusBadRequest, Message: "Invalid To header"}
	if IsRejected(ClassifyImport(other)) {
		t.Fatalf("unexpected rejection for %v", other)
	}
	if ClassifyImport(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}
