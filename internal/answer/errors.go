package answer

import (
	"fmt"
	"time"
)

// ValidationError means the caller sent a question we refuse to process
// (empty, oversized). The message is safe to show to users.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ConfigurationError means a dependency is missing credentials. The
// dependency name is for server-side logs only; the HTTP layer replies with
// a generic "service not configured" message.
type ConfigurationError struct {
	Dependency string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("dependency not configured: %s", e.Dependency)
}

// EmbeddingError wraps a failure of the embedding provider. Fatal for the
// request; there is no silent empty-vector substitution.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding failed: %v", e.Err) }
func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreError wraps a vector-store failure. Distinguishable from a genuine
// zero-results outcome, which is not an error.
type StoreError struct {
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("vector store failed: %v", e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// SynthesisError wraps a generation-provider failure.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("answer synthesis failed: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// RateLimitError carries the retry information well-behaved clients need to
// back off.
type RateLimitError struct {
	Remaining int
	ResetTime time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetTime.Format(time.RFC3339))
}
