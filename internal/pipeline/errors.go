package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RunError is an error raised while running the pipeline.
//
// Fatal codes abort the run at the stage that raised them. ErrCodeEntry marks
// a single entry that could not be published; the run continues past it.
// ErrCodeEntries summarises entry failures once the run has finished.
type RunError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Link identifies the affected entry, for entry errors.
	Link string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes run errors.
type ErrorCode string

const (
	// ErrCodeFetch indicates the feed could not be fetched or parsed.
	ErrCodeFetch ErrorCode = "FETCH_FAILED"

	// ErrCodeCacheRead indicates an existing cache could not be read.
	ErrCodeCacheRead ErrorCode = "CACHE_READ_FAILED"

	// ErrCodeCacheWrite indicates the updated cache could not be persisted.
	ErrCodeCacheWrite ErrorCode = "CACHE_WRITE_FAILED"

	// ErrCodeAuth indicates the publisher could not log in.
	ErrCodeAuth ErrorCode = "AUTH_FAILED"

	// ErrCodeEntry indicates a single entry failed to render or publish.
	ErrCodeEntry ErrorCode = "ENTRY_FAILED"

	// ErrCodeEntries indicates at least one entry failed during the run.
	ErrCodeEntries ErrorCode = "ENTRIES_FAILED"

	// ErrCodeCanceled indicates the run was interrupted.
	ErrCodeCanceled ErrorCode = "CANCELED"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Link != "" {
		msg += fmt.Sprintf(" (link=%s)", e.Link)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// MarshalJSON renders the error for run reports, flattening the cause to text.
func (e *RunError) MarshalJSON() ([]byte, error) {
	w := struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
		Link    string    `json:"link,omitempty"`
		Cause   string    `json:"cause,omitempty"`
	}{Code: e.Code, Message: e.Message, Link: e.Link}
	if e.Err != nil {
		w.Cause = e.Err.Error()
	}
	return json.Marshal(w)
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsFatal returns true if err stopped the run before all entries were handled.
// Uses errors.As to handle wrapped errors.
func IsFatal(err error) bool {
	var re *RunError
	if !errors.As(err, &re) {
		return err != nil
	}
	switch re.Code {
	case ErrCodeEntry, ErrCodeEntries, ErrCodeCacheWrite:
		return false
	default:
		return true
	}
}

// IsFetchError returns true if the feed could not be fetched.
func IsFetchError(err error) bool {
	return hasCode(err, ErrCodeFetch)
}

// IsCacheReadError returns true if the cache could not be loaded.
func IsCacheReadError(err error) bool {
	return hasCode(err, ErrCodeCacheRead)
}

// IsCacheWriteError returns true if the cache could not be persisted.
func IsCacheWriteError(err error) bool {
	return hasCode(err, ErrCodeCacheWrite)
}

// IsAuthError returns true if the publisher login failed.
func IsAuthError(err error) bool {
	return hasCode(err, ErrCodeAuth)
}

// IsEntriesError returns true if the run completed with entry failures.
func IsEntriesError(err error) bool {
	return hasCode(err, ErrCodeEntries)
}

// IsCanceled returns true if the run was interrupted.
func IsCanceled(err error) bool {
	return hasCode(err, ErrCodeCanceled)
}

func newFetchError(url string, err error) *RunError {
	return &RunError{Code: ErrCodeFetch, Message: fmt.Sprintf("fetching feed %s", url), Err: err}
}

func newCacheReadError(err error) *RunError {
	return &RunError{Code: ErrCodeCacheRead, Message: "loading cache", Err: err}
}

func newCacheWriteError(err error) *RunError {
	return &RunError{Code: ErrCodeCacheWrite, Message: "persisting cache", Err: err}
}

func newAuthError(err error) *RunError {
	return &RunError{Code: ErrCodeAuth, Message: "logging in", Err: err}
}

func newEntryError(link, stage string, err error) *RunError {
	return &RunError{Code: ErrCodeEntry, Message: stage, Link: link, Err: err}
}

func newEntriesError(failed, total int) *RunError {
	return &RunError{
		Code:    ErrCodeEntries,
		Message: fmt.Sprintf("%d of %d entries failed", failed, total),
	}
}

func newCanceledError(stage string, err error) *RunError {
	return &RunError{Code: ErrCodeCanceled, Message: "interrupted while " + stage, Err: err}
}
