package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/qbox-live/qbox/internal/api"
	"github.com/qbox-live/qbox/internal/dispatch"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The backend refused the action or the feed was lost
	ExitCommandError = 2 // Bad flags, missing room, unreachable backend
	ExitCancelled    = 3 // A confirmation prompt was declined
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// actionError maps a dispatcher failure to an exit code.
func actionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dispatch.ErrNotConfirmed) {
		return WrapExitError(ExitCancelled, "cancelled", err)
	}
	var failure *dispatch.ActionFailure
	if errors.As(err, &failure) {
		return &ExitError{Code: ExitFailure, Err: failure}
	}
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		return WrapExitError(ExitFailure, "backend refused the request", err)
	}
	return err
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON output of a command.
type CLIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Success prints text in text mode, or the data wrapped in a CLIResponse in
// JSON mode.
func (f *OutputFormatter) Success(text string, data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Message: text, Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}
