// internal/common/errors/handler.go
package errors

// ErrorHandler normalizes operation errors and logs them in one place.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err against operation op and returns its normalized form.
// Retryable errors are logged at warn level since the user can simply try
// again; everything else is an error.
func (h *ErrorHandler) Handle(op string, err error, fields map[string]interface{}) *StandardError {
	stdErr := Normalize(err)
	if stdErr == nil {
		return nil
	}

	logFields := map[string]interface{}{
		"operation": op,
		"errorCode": string(stdErr.Code),
		"message":   stdErr.Message,
		"details":   stdErr.Details,
		"retryable": stdErr.Retryable,
		"category":  Category(stdErr.Code),
	}
	for k, v := range stdErr.Metadata {
		logFields[k] = v
	}
	for k, v := range fields {
		logFields[k] = v
	}

	if stdErr.Retryable {
		h.logger.Warn("operation failed", logFields)
	} else {
		h.logger.Error("operation failed", logFields)
	}
	return stdErr
}

// Category groups codes for dashboards and log filtering.
func Category(code ErrorCode) string {
	switch code {
	case ErrCodeServiceUnavailable, ErrCodeServiceTimeout, ErrCodeBadStatus,
		ErrCodeContractViolation, ErrCodeNotFound, ErrCodeUnauthorized:
		return "TRANSPORT"
	case ErrCodeConversationBusy, ErrCodeConversationClosed, ErrCodeEmptyMessage:
		return "CONVERSATION"
	case ErrCodeStepIncomplete, ErrCodeSubmitNotAllowed, ErrCodeSubmitInFlight,
		ErrCodeAlreadySubmitted, ErrCodeVerificationError:
		return "KYC"
	case ErrCodeSessionNotFound, ErrCodeStoreFailed, ErrCodeTranscriptWrite:
		return "STORAGE"
	default:
		return "INTERNAL"
	}
}
