package ai

import "context"

// GenerateOptions are the sampling knobs sent with a single-prompt
// completion.
type GenerateOptions struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Provider is a remote text-generation backend.
type Provider interface {
	Name() string
	Model() string
	// Health is a cheap reachability probe; nil means reachable.
	Health(ctx context.Context) error
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
