package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/storage"
)

// CLIError wraps domain errors with user-facing messages and actionable hints.
type CLIError struct {
	Message  string
	Hint     string
	Err      error
	ExitCode int
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a CLIError with a default exit code of 1.
func NewCLIError(msg, hint string, err error) *CLIError {
	return &CLIError{
		Message:  msg,
		Hint:     hint,
		Err:      err,
		ExitCode: 1,
	}
}

// Exit codes by failure class.
const (
	exitFailure   = 1
	exitRejected  = 2
	exitTransient = 3
)

var guardHints = map[string]string{
	"task-has-activities":     "Delete the task's activities first ('stride activity list --task <id>')",
	"key-area-has-tasks":      "Move or delete the key area's tasks first",
	"list-has-tasks":          "Move the list's tasks to another list first",
	"default-key-area-locked": "The Ideas key area cannot be renamed, moved or deleted",
	"default-key-area-lists":  "The Ideas key area has no named lists",
	"reserved-title":          "Pick a title other than 'Ideas'",
	"duplicate-list-name":     "List names must be unique within a key area",
	"delegation-recipient":    "Delegate to someone other than yourself",
	"delegation-state":        "Check 'stride inbox' for delegations waiting on you",
	"delegation-owner":        "Only the current owner can delegate; ask them or pass --user",
}

// MapError converts known domain errors into CLIErrors with actionable hints.
// Unmapped errors are returned as-is.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return err
	}

	var capErr *tracking.CapacityError
	if errors.As(err, &capErr) {
		hint := "Delete an existing key area first"
		if capErr.Resource == "list" {
			hint = "Delete an existing list first"
		}
		return &CLIError{Message: capErr.Error(), Hint: hint, Err: err, ExitCode: exitRejected}
	}

	var guard *tracking.GuardViolation
	if errors.As(err, &guard) {
		return &CLIError{Message: "change not allowed", Hint: guardHints[guard.Rule], Err: err, ExitCode: exitRejected}
	}

	var invalid *tracking.ValidationError
	if errors.As(err, &invalid) {
		return &CLIError{
			Message:  fmt.Sprintf("invalid %s", invalid.Field),
			Hint:     fmt.Sprintf("Check the value given for %s", invalid.Field),
			Err:      err,
			ExitCode: exitRejected,
		}
	}

	switch {
	case errors.Is(err, storage.ErrNotInitialized):
		return NewCLIError("workspace is not initialized", "Run 'stride init' in the workspace root", err)
	case errors.Is(err, tracking.ErrUnauthorized):
		return NewCLIError("the service refused the acting user", "Set --user or 'user' in .stride/config.yaml", err)
	case errors.Is(err, tracking.ErrNotFound):
		return NewCLIError("not found", "List the records with 'stride <kind> list' to find the id", err)
	case errors.Is(err, tracking.ErrConflict):
		return NewCLIError("the record changed on the service", "The local copy was refreshed; retry the command", err)
	case errors.Is(err, tracking.ErrTransient):
		return &CLIError{Message: "the service is unreachable", Hint: "Check 'remote' in .stride/config.yaml and retry", Err: err, ExitCode: exitTransient}
	}

	return err
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cliErr *CLIError
	if errors.As(err, &cliErr) && cliErr.ExitCode != 0 {
		return cliErr.ExitCode
	}
	return exitFailure
}

func reportError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	var cliErr *CLIError
	if errors.As(err, &cliErr) && cliErr.Hint != "" {
		_, _ = fmt.Fprintf(w, "Hint: %s\n", cliErr.Hint)
	}
}
