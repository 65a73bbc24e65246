package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// CapacityError reports that a provider refused a request because of a rate
// limit or an exhausted quota. Callers may retry with another model.
type CapacityError struct {
	Provider string
	Err      error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: capacity exceeded: %v", e.Provider, e.Err)
}

func (e *CapacityError) Unwrap() error { return e.Err }

// ProviderError reports any other failed completion.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StatusError is returned by the HTTP based providers for non-200 replies.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}

var capacityMarkers = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"quota",
	"resource_exhausted",
	"too many requests",
	"429",
}

// Classify converts a raw provider error into a *CapacityError or a
// *ProviderError. Context errors and errors that are already classified are
// returned as they are.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var capErr *CapacityError
	var provErr *ProviderError
	if errors.As(err, &capErr) || errors.As(err, &provErr) {
		return err
	}

	if isCapacity(err) {
		return &CapacityError{Provider: provider, Err: err}
	}
	return &ProviderError{Provider: provider, Err: err}
}

// IsCapacity reports whether err is, or wraps, a *CapacityError.
func IsCapacity(err error) bool {
	var capErr *CapacityError
	return errors.As(err, &capErr)
}

func isCapacity(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var gErr *genai.APIError
	if errors.As(err, &gErr) && (gErr.Code == http.StatusTooManyRequests || gErr.Status == "RESOURCE_EXHAUSTED") {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range capacityMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
