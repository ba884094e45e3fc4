package oracle

import (
	"fmt"
	"strings"
)

// OracleError is the base error for all oracle failures.
type OracleError struct {
	Message string
	Cause   error
}

func (e *OracleError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *OracleError) Unwrap() error { return e.Cause }

// TimeoutError means the oracle did not answer within the deadline.
type TimeoutError struct{ OracleError }

// MalformedResponseError means the oracle answered but its output did
// not parse or validate against the expected schema. Retryable: the
// same prompt often yields a valid answer on the next attempt.
type MalformedResponseError struct {
	OracleError
	Raw string // the unparseable text, trimmed for the audit trail
}

// ProviderError wraps a failure reported by the model provider.
type ProviderError struct {
	OracleError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from rate-limit responses
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

type AuthenticationError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// IsRetryable reports whether retrying the same request may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *AuthenticationError, *ContextLengthError:
		return false
	case *RateLimitError, *ServerError, *TimeoutError, *MalformedResponseError:
		return true
	case *ProviderError:
		return e.Retryable
	default:
		return false
	}
}

// classifyProviderError maps a raw provider error onto the hierarchy by
// message content, since the underlying client does not expose status
// codes directly.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	base := ProviderError{
		OracleError: OracleError{Message: msg, Cause: err},
		Provider:    provider,
	}
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		base.StatusCode = 401
		return &AuthenticationError{ProviderError: base}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		base.StatusCode = 429
		base.Retryable = true
		return &RateLimitError{ProviderError: base}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		base.StatusCode = 413
		return &ContextLengthError{ProviderError: base}
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "overloaded") || strings.Contains(lower, "internal server"):
		base.StatusCode = 500
		base.Retryable = true
		return &ServerError{ProviderError: base}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &TimeoutError{OracleError: OracleError{Message: msg, Cause: err}}
	default:
		base.Retryable = true
		return &base
	}
}
