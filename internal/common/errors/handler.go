// internal/common/errors/handler.go
package errors

import (
	"fmt"
	"time"
)

// ErrorHandler normalizes and logs errors at the trigger boundary. The
// boundary never propagates: every error ends here as a log line plus a
// recorded outcome, so one failed step cannot take down the poller or
// block later steps.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleStepError handles any error raised while executing a scheduled step.
func (h *ErrorHandler) HandleStepError(jobID, leadID string, err error) *StandardError {
	stdErr := h.normalizeError(err)
	h.logError(jobID, leadID, stdErr)
	return stdErr
}

// Recover converts a panic value into a StandardError and logs it. Meant to
// be called from a deferred recover at the trigger boundary.
func (h *ErrorHandler) Recover(jobID, leadID string, recovered interface{}) *StandardError {
	stdErr := &StandardError{
		Code:      "INTERNAL_PANIC",
		Message:   "Panic recovered in trigger handler",
		Details:   fmt.Sprintf("%v", recovered),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
	h.logError(jobID, leadID, stdErr)
	return stdErr
}

// normalizeError ensures we always have a StandardError
func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func (h *ErrorHandler) logError(jobID, leadID string, stdErr *StandardError) {
	h.logger.Error("Step failed", map[string]interface{}{
		"jobId":         jobID,
		"leadId":        leadID,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	})
}
