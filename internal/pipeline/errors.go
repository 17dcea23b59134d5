package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/loykin/apingest/internal/common"
)

// ConfigurationError reports a setting or expression rejected before any request is sent.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration at %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError means no response was received (connection refused, timeout, DNS).
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport error: %v", e.Method, common.MaskSensitiveData(e.URL), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnsuccessfulResponseError is produced when the success condition evaluated to false.
// RequestBody is empty unless show_request_body_on_error is enabled.
type UnsuccessfulResponseError struct {
	Method       string
	URL          string
	StatusCode   int
	ResponseBody string
	RequestBody  string
	Condition    string
	Context      *Context
}

func (e *UnsuccessfulResponseError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s: unsuccessful response (status %d, success_condition %q)",
		e.Method, common.MaskSensitiveData(e.URL), e.StatusCode, e.Condition)
	if e.ResponseBody != "" {
		fmt.Fprintf(&sb, ", response body: %s", common.MaskSensitiveData(truncate(e.ResponseBody, 2048)))
	}
	if e.RequestBody != "" {
		fmt.Fprintf(&sb, ", request body: %s", common.MaskSensitiveData(e.RequestBody))
	}
	return sb.String()
}

// EvaluationError wraps an expression failure together with the role the
// expression plays, e.g. "success_condition" or "pager.while". It is never retried.
type EvaluationError struct {
	Role string
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Role, e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// PrepareStepError aborts the run when any prepare request or assignment fails.
type PrepareStepError struct {
	Group int
	Step  string
	Err   error
}

func (e *PrepareStepError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("prepare[%d]: %v", e.Group, e.Err)
	}
	return fmt.Sprintf("prepare[%d] %s: %v", e.Group, e.Step, e.Err)
}

func (e *PrepareStepError) Unwrap() error { return e.Err }

// truncate keeps at most n bytes of s without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
