package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/scanbatch/internal/condor"
	"github.com/roach88/scanbatch/internal/epoch"
	"github.com/roach88/scanbatch/internal/gpstime"
	"github.com/roach88/scanbatch/internal/workflow"
)

// Exit codes for CLI commands. A failed scheduler tool exits with its own
// status instead.
const (
	ExitSuccess    = 0 // Successful execution
	ExitFailure    = 1 // Unclassified failure, or a scheduler tool with no exit status
	ExitInputError = 2 // Invalid times or options; nothing was written
	ExitWriteError = 3 // Filesystem failure while writing artifacts or the ledger
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeTimes       = "E002" // No times, bad time token or unreadable time file
	ErrCodeOption      = "E003" // Invalid option value
	ErrCodeEpoch       = "E004" // Epoch table invalid or timestamp outside it
	ErrCodeDefaults    = "E005" // Defaults file unreadable or invalid
	ErrCodeWriteFailed = "E006" // Artifact write error
	ErrCodeScheduler   = "E007" // Scheduler tool failed
	ErrCodeLedger      = "E008" // Ledger open/read/write error
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
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
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classifyError maps a generation error to its exit code and error code.
func classifyError(err error) (int, string) {
	var (
		parseErr  *gpstime.ParseError
		fileErr   *gpstime.FileError
		lookupErr *epoch.LookupError
		tableErr  *epoch.TableError
		inputErr  *workflow.InputError
		writeErr  *workflow.WriteError
		cmdErr    *condor.CommandError
	)
	switch {
	case errors.Is(err, gpstime.ErrNoTimes), errors.As(err, &parseErr), errors.As(err, &fileErr):
		return ExitInputError, ErrCodeTimes
	case errors.As(err, &lookupErr), errors.As(err, &tableErr):
		return ExitInputError, ErrCodeEpoch
	case errors.As(err, &inputErr):
		return ExitInputError, ErrCodeOption
	case errors.As(err, &writeErr):
		return ExitWriteError, ErrCodeWriteFailed
	case errors.As(err, &cmdErr):
		if cmdErr.ExitCode > 0 {
			return cmdErr.ExitCode, ErrCodeScheduler
		}
		return ExitFailure, ErrCodeScheduler
	}
	return ExitFailure, ErrCodeGeneric
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E001", "E002", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail renders err and returns an ExitError carrying exitCode. The
// original error stays reachable through errors.As.
func (f *OutputFormatter) Fail(exitCode int, code string, err error, details interface{}) error {
	_ = f.Error(code, err.Error(), details)
	return WrapExitError(exitCode, code, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
