// Package assist wraps the external text-generation service used for message
// translation and the in-app assistant. Every call degrades to a fallback
// text instead of returning an error to the caller.
package assist

import "context"

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeneratorFunc adapts an ordinary function to TextGenerator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// GenerateText calls f.
func (f GeneratorFunc) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}
