package errors

import (
	"fmt"
	"net/http"
	"time"
)

/**
 * Error types for the notes OCR pipeline
 *
 * Input errors are the only ones a caller ever sees. Engine, tier and
 * delivery errors are logged and absorbed by the stage that raised them.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorMissingFilename   ErrorCode = "MISSING_FILENAME"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorFileTooLarge      ErrorCode = "FILE_TOO_LARGE"
	ErrorEmptyFile         ErrorCode = "EMPTY_FILE"
	ErrorCorruptImage      ErrorCode = "CORRUPT_IMAGE"

	// Recognition errors
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"

	// Analysis tier errors
	ErrorTierFailed   ErrorCode = "TIER_FAILED"
	ErrorRemoteStatus ErrorCode = "REMOTE_STATUS"

	// Network / processing errors
	ErrorNetworkTimeout    ErrorCode = "NETWORK_TIMEOUT"
	ErrorDeliveryFailed    ErrorCode = "DELIVERY_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	RequestID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// IsInputError reports whether the error should be returned to the caller
func (e *PipelineError) IsInputError() bool {
	switch e.Code {
	case ErrorInvalidInput, ErrorMissingFilename, ErrorUnsupportedFormat,
		ErrorFileTooLarge, ErrorEmptyFile, ErrorCorruptImage:
		return true
	}
	return false
}

// HTTPStatus maps the error code to a response status
func (e *PipelineError) HTTPStatus() int {
	switch e.Code {
	case ErrorFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorProcessingTimeout:
		return http.StatusGatewayTimeout
	}
	if e.IsInputError() {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Factory functions for common errors

func NewMissingFilenameError() *PipelineError {
	return &PipelineError{
		Code:      ErrorMissingFilename,
		Message:   "No file provided",
		Timestamp: time.Now(),
	}
}

func NewInvalidInputError(message string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorInvalidInput,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewUnsupportedFormatError(filename, extension string) *PipelineError {
	return &PipelineError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file type: %s", extension),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_name": filename,
			"extension": extension,
		},
	}
}

func NewFileTooLargeError(filename string, size, limit int64) *PipelineError {
	return &PipelineError{
		Code:      ErrorFileTooLarge,
		Message:   fmt.Sprintf("File too large: %d bytes (limit %d)", size, limit),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_name": filename,
			"file_size": size,
			"limit":     limit,
		},
	}
}

func NewEmptyFileError(filename string) *PipelineError {
	return &PipelineError{
		Code:      ErrorEmptyFile,
		Message:   "Uploaded file is empty",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_name": filename,
		},
	}
}

func NewCorruptImageError(filename string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorCorruptImage,
		Message:   "Uploaded file is not a decodable image",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_name": filename,
		},
		Cause: cause,
	}
}

func NewOCRFailedError(requestID, engine string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("Recognition failed on engine: %s", engine),
		RequestID: requestID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewEngineUnavailableError(engine string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorEngineUnavailable,
		Message:   fmt.Sprintf("Recognition engine unavailable: %s", engine),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewTierFailedError(requestID, provider string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorTierFailed,
		Message:   fmt.Sprintf("Analysis provider failed: %s", provider),
		RequestID: requestID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"provider": provider,
		},
		Cause: cause,
	}
}

func NewRemoteStatusError(service string, status int, body string) *PipelineError {
	if len(body) > 256 {
		body = body[:256]
	}
	return &PipelineError{
		Code:      ErrorRemoteStatus,
		Message:   fmt.Sprintf("%s returned status %d", service, status),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service": service,
			"status":  status,
			"body":    body,
		},
	}
}

func NewNetworkTimeoutError(service string, timeout time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorNetworkTimeout,
		Message:   fmt.Sprintf("%s did not answer within %v", service, timeout),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service":          service,
			"timeout_duration": timeout.String(),
		},
		Cause: cause,
	}
}

func NewDeliveryFailedError(deliveryID string, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorDeliveryFailed,
		Message:   "Failed to deliver analysis to student",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"delivery_id": deliveryID,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(requestID string, duration time.Duration, cause error) *PipelineError {
	return &PipelineError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		RequestID: requestID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

// WithRequestID stamps the request id and returns the same error
func (e *PipelineError) WithRequestID(requestID string) *PipelineError {
	e.RequestID = requestID
	return e
}

// ToMap converts error to map for JSON bodies and log fields
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.RequestID != "" {
		result["request_id"] = e.RequestID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
