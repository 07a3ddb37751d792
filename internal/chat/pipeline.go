package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
)

// ContextRetriever supplies ranked chunks for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, k int, scope []string) ([]*models.RetrievalResult, error)
}

// Pipeline answers questions over ingested documents: retrieve, prompt,
// stream, cite.
type Pipeline struct {
	retriever        ContextRetriever
	client           llm.Client
	counter          *tokenCounter
	maxContextTokens int
	historyTurns     int
	logger           *zap.Logger // optional
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for per-question debug output.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an answer pipeline.
func NewPipeline(r ContextRetriever, client llm.Client, cfg *config.LLMConfig, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		retriever:        r,
		client:           client,
		counter:          newTokenCounter(),
		maxContextTokens: cfg.MaxContextTokens,
		historyTurns:     cfg.HistoryTurns,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ask answers a question and streams the result. The returned channel carries
// token events in generation order followed by exactly one terminal event:
// citations on success, or an error whose Partial flag says whether any tokens
// were already delivered. The channel is closed after the terminal event, or
// without one when ctx is cancelled and the consumer is gone.
func (p *Pipeline) Ask(ctx context.Context, question string, history []models.ChatMessage, scope []string) <-chan models.Event {
	events := make(chan models.Event, 16)
	go func() {
		defer close(events)

		results, err := p.retriever.Retrieve(ctx, question, 0, scope)
		if err != nil {
			p.send(ctx, events, models.Event{Type: models.EventError, Err: err})
			return
		}
		contextBlocks, used := BuildContext(p.counter, results, p.maxContextTokens)
		system := SystemPrompt(contextBlocks)

		if p.logger != nil {
			p.logger.Debug("answering question",
				zap.Int("retrieved", len(results)),
				zap.Int("in_context", len(used)),
				zap.Int("scope", len(scope)))
		}

		msgs := p.buildMessages(question, history)

		var answer strings.Builder
		streamErr := p.client.StreamChat(ctx, system, msgs, func(token string) error {
			if !p.send(ctx, events, models.Event{Type: models.EventToken, Token: token}) {
				return ctx.Err()
			}
			answer.WriteString(token)
			return nil
		})
		if streamErr != nil {
			p.send(ctx, events, models.Event{
				Type:    models.EventError,
				Err:     streamErr,
				Partial: answer.Len() > 0,
			})
			return
		}

		p.send(ctx, events, models.Event{
			Type:      models.EventCitations,
			Citations: ExtractCitations(answer.String(), used),
		})
	}()
	return events
}

// buildMessages converts trimmed history plus the question into chat messages.
// Only the most recent historyTurns exchanges are kept.
func (p *Pipeline) buildMessages(question string, history []models.ChatMessage) []llm.Message {
	if p.historyTurns > 0 && len(history) > p.historyTurns*2 {
		history = history[len(history)-p.historyTurns*2:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, h := range history {
		msgs = append(msgs, llm.Message{Role: h.Role, Content: h.Content})
	}
	return append(msgs, llm.Message{Role: "user", Content: question})
}

// send delivers ev unless ctx is done first. Reports whether ev was delivered.
func (p *Pipeline) send(ctx context.Context, ch chan<- models.Event, ev models.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
