package main

import (
	"os"

	"github.com/loykin/apingest/internal/common"
)

// ExitHandler provides a testable way to handle program termination
type ExitHandler interface {
	Exit(code int)
	LogFatalError(err error, msg string, keyvals ...any)
}

// DefaultExitHandler logs through the process logger and calls os.Exit.
type DefaultExitHandler struct{}

func (h *DefaultExitHandler) Exit(code int) {
	os.Exit(code)
}

// LogFatalError logs err and exits with status 1. It logs through the current
// default logger so the task's logging settings apply.
func (h *DefaultExitHandler) LogFatalError(err error, msg string, keyvals ...any) {
	common.LogError(msg, err, append([]any{"component", "main"}, keyvals...)...)
	h.Exit(1)
}

// Global exit handler (can be replaced for testing)
var exitHandler ExitHandler = &DefaultExitHandler{}
