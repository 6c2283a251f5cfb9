package llm

import "errors"

// Error taxonomy. Providers wrap SDK errors with one of the classification
// sentinels so callers can branch with errors.Is.
var (
	// ErrTransient is a 5xx, timeout or network failure.
	ErrTransient = errors.New("llm: transient error")
	// ErrRateLimit is a 429 that survived the provider's own retries.
	ErrRateLimit = errors.New("llm: rate limited")
	// ErrPersistentRateLimit is terminal: the extended backoff ladder was exhausted.
	ErrPersistentRateLimit = errors.New("llm: rate limit persisted through extended backoff")
	// ErrSchemaViolation means the response was not JSON matching the schema.
	ErrSchemaViolation = errors.New("llm: response violates schema")
	// ErrContentFilter means the provider refused or filtered the output.
	ErrContentFilter = errors.New("llm: content filtered")
	// ErrPermanent is any other API error; it is never retried.
	ErrPermanent = errors.New("llm: permanent API error")
)

// IsRetryable reports whether a provider-level retry may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTransient)
}
