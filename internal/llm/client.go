// Package llm provides streaming chat clients for answer generation.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors. Callers distinguish a deadline from a provider failure so
// the stream can report which one cut the answer short.
var (
	// ErrTimeout indicates the provider did not finish within the deadline.
	ErrTimeout = errors.New("generation timed out")
	// ErrProvider indicates the provider rejected the request or failed mid-stream.
	ErrProvider = errors.New("provider error")
)

// Message is one turn of a chat conversation. Role is "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client streams a chat completion. onToken is called for each text fragment
// in order; if it returns an error, streaming stops and that error is
// returned. A nil error means the stream completed.
type Client interface {
	StreamChat(ctx context.Context, system string, msgs []Message, onToken func(token string) error) error
}

// Chat collects a full completion from a streaming client. Useful for callers
// that do not need incremental tokens.
func Chat(ctx context.Context, c Client, system string, msgs []Message) (string, error) {
	var b strings.Builder
	err := c.StreamChat(ctx, system, msgs, func(token string) error {
		b.WriteString(token)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
