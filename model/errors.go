package model

// ErrorCode is the stable failure taxonomy shared by delivery logs and DLQ
// entries. Codes are part of the persisted wire format.
type ErrorCode string

const (
	ErrCodeInvalidURL     ErrorCode = "INVALID_URL"
	ErrCodeTransformation ErrorCode = "TRANSFORMATION_ERROR"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT"
	ErrCodeAuthFailed     ErrorCode = "AUTH_FAILED"
	ErrCodeAuthExpired    ErrorCode = "AUTH_EXPIRED"
	ErrCodeClientError    ErrorCode = "CLIENT_ERROR"
	ErrCodeServerError    ErrorCode = "SERVER_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"
	ErrCodeCommunication  ErrorCode = "COMMUNICATION_ERROR"
	ErrCodeActionNotFound ErrorCode = "ACTION_NOT_FOUND"
	ErrCodeActionFailure  ErrorCode = "ACTION_FAILURE"
	ErrCodePartialFailure ErrorCode = "PARTIAL_FAILURE"
	ErrCodeWorkerError    ErrorCode = "WORKER_ERROR"
	ErrCodeCircuitOpen    ErrorCode = "CIRCUIT_OPEN"

	// Abandonment reasons used by the retry processor.
	ErrCodeWebhookNotFound ErrorCode = "WEBHOOK_NOT_FOUND"
	ErrCodeWebhookInactive ErrorCode = "WEBHOOK_INACTIVE"
)

// Retryable reports whether the taxonomy treats this code as transient.
// Classification of HTTP statuses happens in the delivery engine; this only
// answers for code-level decisions (DLQ rescheduling, retry processor).
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout,
		ErrCodeNetworkError, ErrCodeAuthExpired:
		return true
	}
	return false
}
