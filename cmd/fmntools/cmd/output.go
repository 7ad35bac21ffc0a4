package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ssargent/fmntools/pkg/store"
)

// Process exit statuses
const (
	statusOK     = 0 // Command succeeded
	statusFailed = 1 // Operation failed or the device is not provisioned
	statusUsage  = 2 // Malformed input (UUID, token, serial number, address, device)
)

// commandError is a failed command together with the exit status it maps to
type commandError struct {
	status int
	doing  string
	cause  error
}

func (e *commandError) Error() string {
	if e.cause == nil {
		return e.doing
	}
	return e.doing + ": " + e.cause.Error()
}

func (e *commandError) Unwrap() error {
	return e.cause
}

// failed reports that the command gave up while doing something. Malformed
// input exits with statusUsage, everything else with statusFailed.
func failed(doing string, cause error) error {
	status := statusFailed
	if errors.Is(cause, store.ErrMalformedInput) {
		status = statusUsage
	}
	return &commandError{status: status, doing: doing, cause: cause}
}

// badUsage reports an invocation or configuration the command cannot work with
func badUsage(doing string, cause error) error {
	return &commandError{status: statusUsage, doing: doing, cause: cause}
}

// exitStatus is the process exit status for the error returned by a command
func exitStatus(err error) int {
	if err == nil {
		return statusOK
	}
	var cerr *commandError
	if errors.As(err, &cerr) {
		return cerr.status
	}
	return statusFailed
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "incomplete"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Success outputs a result in the configured format. Text output relies on
// the payload's String method.
func (f *OutputFormatter) Success(data interface{}) error {
	return f.emit(CLIResponse{Status: "ok", Data: data})
}

// Incomplete outputs a result that is worth printing even though the command
// did not get everything it was asked for
func (f *OutputFormatter) Incomplete(data interface{}, cause error) error {
	return f.emit(CLIResponse{Status: "incomplete", Data: data, Error: cause.Error()})
}

func (f *OutputFormatter) emit(resp CLIResponse) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	_, err := fmt.Fprintln(f.Writer, resp.Data)
	return err
}
