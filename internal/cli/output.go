package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/stockline/internal/inventory"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation refused or scenarios failed
	ExitCommandError = 2 // Bad flags, config, unreachable server, unreadable journal
)

// ExitError carries the process exit code for a command failure.
//
// Commands return it from RunE; main maps it to os.Exit via GetExitCode.
// Anything else reaching main exits with ExitFailure.
type ExitError struct {
	Code    int    // one of ExitSuccess, ExitFailure, ExitCommandError
	Message string // what the command was doing, printed before Err
	Err     error  // underlying cause; nil for plain refusals
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code to err.
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

// exitCodeFor maps an operation error to an exit code: refusals by the
// client or the server are failures, everything else is a command error.
func exitCodeFor(err error) int {
	if inventory.IsValidation(err) || inventory.IsServerRejection(err) {
		return ExitFailure
	}
	return ExitCommandError
}

// OutputFormatter writes command results as text or as a JSON envelope.
//
// In json mode every call writes exactly one CLIResponse document, so
// stdout stays machine-readable. Logs go to stderr through slog and never
// mix with it.
//
// Thread-safety: not safe for concurrent use.
type OutputFormatter struct {
	Format string    // "json" | "text"
	Writer io.Writer // command stdout
}

// CLIResponse is the JSON envelope of every command's output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" | "error"; Data and Error are exclusive
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string `json:"code"` // inventory error code (VALIDATION, NETWORK...) or ERROR
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. In text mode text renders it; a nil text prints
// data with fmt.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	text(f.Writer)
	return nil
}

// Error writes an error report.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}

// Fail reports err and returns it as an ExitError.
func (f *OutputFormatter) Fail(message string, err error) error {
	code := string(inventory.CodeOf(err))
	if code == "" {
		code = "ERROR"
	}
	if werr := f.Error(code, fmt.Sprintf("%s: %v", message, err), nil); werr != nil {
		return werr
	}
	return WrapExitError(exitCodeFor(err), message, err)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
