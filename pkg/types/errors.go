package types

import (
	"errors"
	"fmt"
	"time"
)

// ProtocolError reports an unparseable or unknown tool invocation.
// It is recoverable: the loop feeds it back to the model as a correction.
type ProtocolError struct {
	Err      error
	ToolName string
	Raw      string
}

func (e *ProtocolError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("protocol error for tool %q: %v", e.ToolName, e.Err)
	}
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ToolExecutionError reports a failing or panicking tool handler.
// The dispatcher converts it into an error ToolResult.
type ToolExecutionError struct {
	Err      error
	ToolName string
	Panicked bool
}

func (e *ToolExecutionError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("tool %s panicked: %v", e.ToolName, e.Err)
	}
	return fmt.Sprintf("tool %s failed: %v", e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ProviderTransientError is a provider failure handled inside the retry policy.
type ProviderTransientError struct {
	Err       error
	Model     string
	Reason    string
	Status    int
	RetryWait time.Duration
}

func (e *ProviderTransientError) Error() string {
	return fmt.Sprintf("transient provider error (%s, model=%s): %v", e.Reason, e.Model, e.Err)
}

func (e *ProviderTransientError) Unwrap() error { return e.Err }

// ProviderFatalError ends a session.
type ProviderFatalError struct {
	Err     error
	Models  []string
	Timeout bool
}

func (e *ProviderFatalError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("session timeout: %v", e.Err)
	}
	return fmt.Sprintf("provider failed after trying %v: %v", e.Models, e.Err)
}

func (e *ProviderFatalError) Unwrap() error { return e.Err }

// ErrBudgetExceeded is the sentinel wrapped by BudgetExceededError.
var ErrBudgetExceeded = errors.New("context budget exceeded")

// BudgetExceededError reports a message selection that does not fit the window.
type BudgetExceededError struct {
	Estimated int
	Limit     int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%v: estimated %d tokens, limit %d", ErrBudgetExceeded, e.Estimated, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// IsFatal reports whether err must end the session.
func IsFatal(err error) bool {
	var fatal *ProviderFatalError
	var budget *BudgetExceededError
	return errors.As(err, &fatal) || errors.As(err, &budget)
}
