// Package errors provides standardized error handling for the nurture engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodePlanValidationFailed ErrorCode = "PLAN_VALIDATION_FAILED"
	ErrCodeInvalidLeadData      ErrorCode = "INVALID_LEAD_DATA"

	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeLeadNotFound     ErrorCode = "LEAD_NOT_FOUND"
	ErrCodePlanNotFound     ErrorCode = "PLAN_NOT_FOUND"
	ErrCodeJobNotFound      ErrorCode = "JOB_NOT_FOUND"

	ErrCodeTransientDelivery    ErrorCode = "TRANSIENT_DELIVERY_FAILURE"
	ErrCodeChannelNotConfigured ErrorCode = "CHANNEL_NOT_CONFIGURED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"

	ErrCodeElasticsearchConnectionFailed ErrorCode = "ELASTICSEARCH_CONNECTION_FAILED"
	ErrCodeSearchQueryFailed             ErrorCode = "SEARCH_QUERY_FAILED"

	ErrCodeSchedulingFailed ErrorCode = "SCHEDULING_FAILED"
	ErrCodeLockNotAcquired  ErrorCode = "LOCK_NOT_ACQUIRED"

	ErrCodeLLMTimeout         ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMInvalidResponse ErrorCode = "LLM_INVALID_RESPONSE"

	ErrCodeAgentRegistrationFailed ErrorCode = "AGENT_REGISTRATION_FAILED"
	ErrCodeAgentDiscoveryFailed    ErrorCode = "AGENT_DISCOVERY_FAILED"

	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable input validation error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPlanValidationError creates a non-retryable plan validation error.
// The planner treats it as a signal to use the fallback plan.
func NewPlanValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePlanValidationFailed,
		Message:   "Generated plan failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidLeadDataError creates a non-retryable lead data error.
func NewInvalidLeadDataError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidLeadData,
		Message:   "Lead data validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotFoundError creates a non-retryable template error.
func NewTemplateNotFoundError(templateName string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Template not found in store",
		Details:   fmt.Sprintf("templateName: %s", templateName),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLeadNotFoundError creates a non-retryable lead lookup error.
func NewLeadNotFoundError(leadID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLeadNotFound,
		Message:   "Lead not found",
		Details:   fmt.Sprintf("leadId: %s", leadID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPlanNotFoundError creates a non-retryable plan lookup error.
func NewPlanNotFoundError(planID string) *StandardError {
	return &StandardError{
		Code:      ErrCodePlanNotFound,
		Message:   "Nurture plan not found",
		Details:   fmt.Sprintf("planId: %s", planID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewJobNotFoundError creates a non-retryable job lookup error.
func NewJobNotFoundError(jobID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeJobNotFound,
		Message:   "Scheduled job not found",
		Details:   fmt.Sprintf("jobId: %s", jobID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransientDeliveryError creates a delivery error. It is marked retryable
// for the transport's benefit; the core itself only records it.
func NewTransientDeliveryError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransientDelivery,
		Message:   "Message delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewChannelNotConfiguredError creates a non-retryable channel routing error.
func NewChannelNotConfiguredError(channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeChannelNotConfigured,
		Message:   "No notifier configured for channel",
		Details:   fmt.Sprintf("channel: %s", channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseInsertFailedError creates a retryable database insert error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database insert operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewElasticsearchConnectionFailedError creates a retryable Elasticsearch connection error.
func NewElasticsearchConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeElasticsearchConnectionFailed,
		Message:   "Elasticsearch connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchQueryFailedError creates a retryable search query error.
func NewSearchQueryFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchQueryFailed,
		Message:   "Elasticsearch query error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSchedulingFailedError creates a retryable scheduling error.
func NewSchedulingFailedError(jobID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchedulingFailed,
		Message:   "Failed to persist scheduled job",
		Details:   fmt.Sprintf("jobId: %s, error: %s", jobID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLockNotAcquiredError creates a retryable lock contention error.
func NewLockNotAcquiredError(leadID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLockNotAcquired,
		Message:   "Per-lead lock not acquired",
		Details:   fmt.Sprintf("leadId: %s", leadID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMTimeoutError creates an LLM timeout error. The planner converts it
// into the fallback plan rather than retrying.
func NewLLMTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMTimeout,
		Message:   "LLM completion timeout",
		Details:   "completion call exceeded configured deadline",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMInvalidResponseError creates a non-retryable LLM response error.
func NewLLMInvalidResponseError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMInvalidResponse,
		Message:   "LLM returned an unusable response",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAgentRegistrationFailedError creates a retryable discovery network error.
func NewAgentRegistrationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAgentRegistrationFailed,
		Message:   "Agent registration failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAgentDiscoveryFailedError creates a retryable discovery network error.
func NewAgentDiscoveryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAgentDiscoveryFailed,
		Message:   "Agent discovery failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigurationError creates a fatal configuration error. These abort
// startup and are never produced per-operation.
func NewConfigurationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfiguration,
		Message:   "Missing or invalid configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExternalServiceError creates a retryable generic external service error.
func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// CodeOf extracts the error code, or empty when err is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsNotFound checks if an error is any of the not-found codes.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTemplateNotFound, ErrCodeLeadNotFound, ErrCodePlanNotFound, ErrCodeJobNotFound:
		return true
	}
	return false
}

// IsValidation checks if an error is a validation failure.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrCodeValidationFailed, ErrCodePlanValidationFailed, ErrCodeInvalidLeadData:
		return true
	}
	return false
}

// IsTransientDelivery checks if an error is a delivery transport failure.
func IsTransientDelivery(err error) bool {
	return CodeOf(err) == ErrCodeTransientDelivery
}

// IsConfiguration checks if an error is fatal configuration.
func IsConfiguration(err error) bool {
	return CodeOf(err) == ErrCodeConfiguration
}

// IsRetryable checks the retryable flag of a StandardError, false otherwise.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TEMPLATE"):
		return "TEMPLATE"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "ELASTICSEARCH") || strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "DELIVERY") || strings.Contains(codeStr, "CHANNEL"):
		return "DELIVERY"
	case strings.Contains(codeStr, "LLM"):
		return "AI"
	case strings.Contains(codeStr, "AGENT"):
		return "DISCOVERY"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	case strings.Contains(codeStr, "CONFIGURATION"):
		return "CONFIGURATION"
	default:
		return "OTHER"
	}
}
