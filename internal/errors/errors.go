package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error codes by class.
const (
	CodeValidation    = "E100"
	CodeAuthorization = "E200"
	CodePersistence   = "E300"
	CodeProvider      = "E400"
)

// AppError carries an internal message for logs and a German user-facing
// message for the chat reply.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

// NewValidationError wraps a business-rule rejection. The user message is
// supplied by the caller because it quotes the conflicting values.
func NewValidationError(msg, userMsg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: userMsg,
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

// NewAuthorizationError marks a chat id that fails the verified/enabled
// invariant. Terminal for the request, never retried.
func NewAuthorizationError(chatID int64) *AppError {
	return &AppError{
		Code:        CodeAuthorization,
		Message:     fmt.Sprintf("chat %d is not authorized", chatID),
		UserMessage: "Dieser Chat ist nicht freigeschaltet.",
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

// NewPersistenceError hides the storage cause behind a generic reply.
func NewPersistenceError(op string, cause error) *AppError {
	return &AppError{
		Code:        CodePersistence,
		Message:     fmt.Sprintf("persistence failure in %s", op),
		UserMessage: "❌ Der Zählerstand konnte nicht gespeichert werden. Bitte versuche es später erneut.",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewProviderError records a Telegram API failure. Callers treat it as
// non-fatal: the send simply did not happen.
func NewProviderError(cause error) *AppError {
	return &AppError{
		Code:        CodeProvider,
		Message:     "telegram api call failed",
		UserMessage: "Der Nachrichtendienst ist vorübergehend nicht erreichbar.",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}
