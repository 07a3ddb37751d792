package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig holds configuration for the Ollama streaming chat client.
type OllamaConfig struct {
	BaseURL     string // default http://localhost:11434
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OllamaClient streams chat completions from a local Ollama server.
type OllamaClient struct {
	cfg    OllamaConfig
	client *http.Client
}

// NewOllamaClient creates a streaming chat client for Ollama.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OllamaClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// StreamChat sends the conversation and forwards message fragments from the
// NDJSON stream to onToken. The system prompt travels as the first message,
// which is how the Ollama chat API expects it.
func (c *OllamaClient) StreamChat(ctx context.Context, system string, msgs []Message, onToken func(string) error) error {
	all := make([]Message, 0, len(msgs)+1)
	if system != "" {
		all = append(all, Message{Role: "system", Content: system})
	}
	all = append(all, msgs...)

	reqBody := ollamaChatRequest{
		Model:    c.cfg.Model,
		Messages: all,
		Stream:   true,
	}
	if c.cfg.Temperature > 0 || c.cfg.MaxTokens > 0 {
		reqBody.Options = map[string]any{}
		if c.cfg.Temperature > 0 {
			reqBody.Options["temperature"] = c.cfg.Temperature
		}
		if c.cfg.MaxTokens > 0 {
			reqBody.Options["num_predict"] = c.cfg.MaxTokens
		}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return wrapTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrProvider, resp.StatusCode, string(respBody))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChatResponse
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return wrapTransportErr(err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("%w: %s", ErrProvider, chunk.Error)
		}
		if chunk.Message.Content != "" {
			if err := onToken(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}
