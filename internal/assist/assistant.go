package assist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Fallback replies used when the generator fails or returns nothing.
const (
	FallbackUnavailable = "I'm having trouble connecting to my brain right now."
	FallbackEmpty       = "I'm sorry, I couldn't process that."
)

const assistantInstruction = "You are Wicara AI, a helpful customer support assistant for the Wicara messaging app. " +
	"Answer questions about the app's features: chat, calls, security, and nearby search. " +
	"Keep responses concise and friendly."

// Assistant provides translation and support replies on top of a TextGenerator.
// A nil generator is allowed and makes every call return its fallback.
type Assistant struct {
	gen     TextGenerator
	timeout time.Duration
	logger  *slog.Logger
}

// NewAssistant builds an Assistant. timeout bounds each upstream call.
func NewAssistant(gen TextGenerator, timeout time.Duration, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Assistant{gen: gen, timeout: timeout, logger: logger.With("component", "assist")}
}

// Translate returns text translated into targetLang, or text unchanged on any failure.
func (a *Assistant) Translate(ctx context.Context, text, targetLang string) string {
	if a.gen == nil || strings.TrimSpace(text) == "" || strings.TrimSpace(targetLang) == "" {
		return text
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Translate the following text to %s. Only return the translated text: %q", targetLang, text)
	out, err := a.gen.GenerateText(ctx, "", prompt)
	if err != nil {
		a.logger.Warn("translation failed", "err", err, "target_lang", targetLang)
		return text
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return text
	}
	return out
}

// Reply answers a support question, or returns a static fallback on failure.
func (a *Assistant) Reply(ctx context.Context, message string) string {
	if a.gen == nil {
		return FallbackUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.gen.GenerateText(ctx, assistantInstruction, message)
	if err != nil {
		a.logger.Warn("assistant reply failed", "err", err)
		return FallbackUnavailable
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return FallbackEmpty
	}
	return out
}
