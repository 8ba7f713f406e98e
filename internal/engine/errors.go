package engine

import (
	"context"
	"errors"
	"fmt"
)

// Code categorizes activation errors. The set is closed; the HTTP
// layer maps codes to status classes and the scheduler logs them.
type Code string

const (
	CodeInvalidGraph       Code = "INVALID_GRAPH"
	CodeUnknownWorkflow    Code = "UNKNOWN_WORKFLOW"
	CodeUnknownNode        Code = "UNKNOWN_NODE"
	CodeBindingEval        Code = "BINDING_EVAL_ERROR"
	CodeScriptCompile      Code = "SCRIPT_COMPILE_ERROR"
	CodeScriptRuntime      Code = "SCRIPT_RUNTIME_ERROR"
	CodeScriptExhausted    Code = "SCRIPT_RESOURCE_EXHAUSTED"
	CodeUpstream           Code = "UPSTREAM_ERROR"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeMissingSecret      Code = "MISSING_SECRET"
	CodeCancelled          Code = "CANCELLED"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	CodeInternal           Code = "INTERNAL"
)

// Error is a classified activation failure. Messages never include
// secret values or binding expressions; pin names and node ids are
// enough to locate the problem.
type Error struct {
	Code       Code
	Message    string
	WorkflowID string
	NodeID     string
	Err        error
}

// E builds a classified error.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, keeping it on the chain.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.WorkflowID != "" && e.NodeID != "":
		return fmt.Sprintf("%s: %s (workflow=%s, node=%s)", e.Code, e.Message, e.WorkflowID, e.NodeID)
	case e.WorkflowID != "":
		return fmt.Sprintf("%s: %s (workflow=%s)", e.Code, e.Message, e.WorkflowID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// At attaches workflow/node context without overwriting values set
// closer to the failure.
func (e *Error) At(workflowID, nodeID string) *Error {
	if e.WorkflowID == "" {
		e.WorkflowID = workflowID
	}
	if e.NodeID == "" {
		e.NodeID = nodeID
	}
	return e
}

// CodeOf extracts the classification of any error: a wrapped *Error
// wins, context errors map to Cancelled/DeadlineExceeded, everything
// else is Internal.
func CodeOf(err error) Code {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	}
	return CodeInternal
}
