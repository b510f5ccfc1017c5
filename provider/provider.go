package provider

import (
	"context"
	"fmt"
)

// Mode selects the completion quality/latency trade-off.
type Mode string

const (
	// ModeStandard is the fast path used for verification and Q&A.
	ModeStandard Mode = "standard"
	// ModeThinking enables the model's extended reasoning pass. Used for
	// question generation where quality matters more than latency.
	ModeThinking Mode = "thinking"
)

// EmbeddingProvider maps text to a fixed-dimension vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// CompletionProvider maps a prompt to a text completion at a given
// temperature.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string, temperature float64, mode Mode) (string, error)
}

// ProviderError wraps a transport or quota failure from the model API.
type ProviderError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error: %d - %s", e.StatusCode, e.Message)
	}
	return "provider error: " + e.Message
}
