package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// FailureKind classifies a provider failure for the failover policy.
type FailureKind string

const (
	FailureRateLimit       FailureKind = "rate_limit"       // FailureRateLimit means quota or throttling; switch model without waiting.
	FailureProvider        FailureKind = "provider_error"   // FailureProvider means an upstream fault; back off and retry.
	FailureTimeout         FailureKind = "timeout"          // FailureTimeout means the call deadline expired.
	FailureContextOverflow FailureKind = "context_overflow" // FailureContextOverflow means the request did not fit the model window.
	FailureOther           FailureKind = "other"            // FailureOther is anything unrecognized.
)

// APIError is returned by providers when the backend answers with a non-success status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Failure is a classified provider error.
type Failure struct {
	Err    error
	Kind   FailureKind
	Model  string
	Status int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s (model=%s, status=%d): %v", f.Kind, f.Model, f.Status, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

var (
	statusPattern = regexp.MustCompile(`status(?:\s*code)?[:\s=]+(\d{3})`)

	rateLimitSignatures = []string{
		"rate limit",
		"rate_limit",
		"ratelimit",
		"too many requests",
		"exceeded your current quota",
		"quota exceeded",
		"resource has been exhausted",
		"resource_exhausted",
		"usage limit reached",
		"throttl",
	}

	overflowSignatures = []string{
		"context_length_exceeded",
		"maximum context length",
		"context window",
		"prompt is too long",
		"too many tokens",
		"request too large",
	}

	providerSignatures = []string{
		"overloaded",
		"internal server error",
		"bad gateway",
		"service unavailable",
		"server_error",
		"upstream",
		"connection reset",
		"connection refused",
		"eof",
	}

	timeoutSignatures = []string{
		"deadline exceeded",
		"timed out",
		"timeout",
	}
)

// ClassifyError maps a provider error to a FailureKind.
// It returns nil for nil errors and for caller cancellation.
func ClassifyError(err error, model string) *Failure {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	var existing *Failure
	if errors.As(err, &existing) {
		return existing
	}

	f := &Failure{Err: err, Model: model, Kind: FailureOther}

	if errors.Is(err, context.DeadlineExceeded) {
		f.Kind = FailureTimeout
		return f
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		f.Kind = FailureTimeout
		return f
	}

	msg := strings.ToLower(err.Error())

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		f.Status = apiErr.StatusCode
	} else if m := statusPattern.FindStringSubmatch(msg); m != nil {
		f.Status, _ = strconv.Atoi(m[1])
	}

	// Message signatures win over status: some backends report quota as 400 or 403.
	switch {
	case containsAny(msg, overflowSignatures):
		f.Kind = FailureContextOverflow
	case containsAny(msg, rateLimitSignatures):
		f.Kind = FailureRateLimit
	case f.Status != 0:
		f.Kind = kindForStatus(f.Status)
	case containsAny(msg, timeoutSignatures):
		f.Kind = FailureTimeout
	case containsAny(msg, providerSignatures):
		f.Kind = FailureProvider
	}
	return f
}

func kindForStatus(status int) FailureKind {
	switch {
	case status == 429:
		return FailureRateLimit
	case status == 408:
		return FailureTimeout
	case status == 413:
		return FailureContextOverflow
	case status >= 500:
		return FailureProvider
	default:
		return FailureOther
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
