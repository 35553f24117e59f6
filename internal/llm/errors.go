package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// Transient provider errors. Callers retry these with bounded backoff and
// degrade to an empty or best-effort result once retries are exhausted.
var (
	ErrConnection  = errors.New("provider connection error")
	ErrRateLimited = errors.New("provider rate limited")
	ErrService     = errors.New("provider service error")
)

// ProviderError tags an underlying provider failure with its transient kind
type ProviderError struct {
	Kind       error // One of ErrConnection, ErrRateLimited, ErrService, or nil
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Kind == nil {
		return e.Err.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// IsTransient reports whether err belongs to the retryable taxonomy
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrService)
}

// Classify maps a raw provider error onto the transient taxonomy. Errors that
// are already classified, context errors, and unknown client errors are
// returned unchanged.
func Classify(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ProviderError{Kind: ErrService, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ProviderError{Kind: ErrConnection, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return &ProviderError{Kind: ErrRateLimited, Err: err}
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "no such host"):
		return &ProviderError{Kind: ErrConnection, Err: err}
	}

	return err
}

// ClassifyStatus maps an HTTP status code onto the transient taxonomy
func ClassifyStatus(statusCode int, err error) error {
	return classifyStatus(statusCode, err)
}

func classifyStatus(statusCode int, err error) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &ProviderError{Kind: ErrRateLimited, StatusCode: statusCode, Err: err}
	case statusCode >= 500:
		return &ProviderError{Kind: ErrService, StatusCode: statusCode, Err: err}
	case statusCode == 0:
		return &ProviderError{Kind: ErrConnection, Err: err}
	default:
		return &ProviderError{StatusCode: statusCode, Err: err}
	}
}
