package constants

const (
	// Shared REST/WS transport-agnostic errors
	ErrCodeAuthFailed     = "AUTH_FAILED"
	ErrCodeAuthExpired    = "AUTH_EXPIRED"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL_ERROR"

	// Discussion domain errors
	ErrCodeEmptyContent      = "EMPTY_CONTENT"
	ErrCodeMessageTooLong    = "MESSAGE_TOO_LONG"
	ErrCodePersistenceFailed = "PERSISTENCE_FAILED"
)
