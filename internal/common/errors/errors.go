// Package errors provides standardized error handling for the issuance
// journey: local validation failures, remote API failures, bounded-poll
// timeouts, and terminal business declines.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Error Codes
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeRemoteFailed     ErrorCode = "REMOTE_FAILED"
	ErrCodePollTimeout      ErrorCode = "POLL_TIMEOUT"
	ErrCodeDeclined         ErrorCode = "DECLINED"

	ErrCodeStageBusy    ErrorCode = "STAGE_BUSY"
	ErrCodeInvalidStage ErrorCode = "INVALID_STAGE"
)

// ==========================
// 2. Problem Details
// ==========================

// ProblemDetails is the RFC 7807 payload the remote API returns for every
// non-2xx response.
type ProblemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// ==========================
// 3. Error Types
// ==========================

// ValidationError carries the ordered list of human-readable messages
// produced by pre-flight form validation. It never reaches the network.
type ValidationError struct {
	Messages  []string  `json:"messages"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ValidationError[%s]: %s", ErrCodeValidationFailed, strings.Join(e.Messages, "; "))
}

// RemoteError is any non-2xx response from the remote API. The problem
// detail is the user-facing message; Status is available for branching.
type RemoteError struct {
	Status    int            `json:"status"`
	Problem   ProblemDetails `json:"problem"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("RemoteError[%s]: %d %s", ErrCodeRemoteFailed, e.Status, e.Problem.Detail)
}

// Retryable reports whether re-triggering the same stage action is a
// sensible operator response. Auth rejections are configuration problems,
// not retry candidates.
func (e *RemoteError) Retryable() bool {
	return e.Status != 401 && e.Status != 403
}

// PollTimeout is returned when a bounded wait exhausted its attempts
// without observing a terminal state. The workflow stays resumable.
type PollTimeout struct {
	Wait      string    `json:"wait"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *PollTimeout) Error() string {
	return fmt.Sprintf("PollTimeout[%s]: %s not resolved after %d attempts", ErrCodePollTimeout, e.Wait, e.Attempts)
}

// DeclinedOutcome is a legitimate terminal business result, not a defect.
// Callers must render it distinctly from errors.
type DeclinedOutcome struct {
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *DeclinedOutcome) Error() string {
	return fmt.Sprintf("DeclinedOutcome[%s]: declined at %s: %s", ErrCodeDeclined, e.Stage, e.Reason)
}

// ==========================
// 4. Constructors
// ==========================

// NewValidationError creates a non-retryable local validation error.
func NewValidationError(messages []string) *ValidationError {
	return &ValidationError{
		Messages:  messages,
		Timestamp: time.Now().UTC(),
	}
}

// NewRemoteError creates an error for a non-2xx API response.
func NewRemoteError(status int, problem ProblemDetails) *RemoteError {
	return &RemoteError{
		Status:    status,
		Problem:   problem,
		Timestamp: time.Now().UTC(),
	}
}

// NewPollTimeout creates a timeout error for a named logical wait.
func NewPollTimeout(wait string, attempts int) *PollTimeout {
	return &PollTimeout{
		Wait:      wait,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeclinedOutcome creates a terminal business decline.
func NewDeclinedOutcome(stage, reason string) *DeclinedOutcome {
	return &DeclinedOutcome{
		Stage:     stage,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}
