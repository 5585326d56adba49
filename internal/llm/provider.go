// Package llm defines the completion contract used by the match scorer.
package llm

import (
	"context"
	"errors"
)

// ErrDisabled is returned by Disabled for every call.
var ErrDisabled = errors.New("llm provider not configured")

// Provider sends a prompt to a chat model and returns the raw text response.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Disabled is used when no API key is configured. Every job then takes the heuristic path.
type Disabled struct{}

// Complete always fails with ErrDisabled.
func (Disabled) Complete(context.Context, string) (string, error) {
	return "", ErrDisabled
}
