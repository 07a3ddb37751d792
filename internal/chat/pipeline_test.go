package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/llm"
	"github.com/hyperjump/kaiwa/internal/models"
)

// stubRetriever returns canned results and records the scope it was given.
type stubRetriever struct {
	results []*models.RetrievalResult
	err     error
	scope   []string
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, k int, scope []string) ([]*models.RetrievalResult, error) {
	s.scope = scope
	return s.results, s.err
}

// scriptedClient emits a fixed token sequence, optionally failing afterwards.
type scriptedClient struct {
	tokens []string
	err    error
	system string
	msgs   []llm.Message
}

func (s *scriptedClient) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string) error) error {
	s.system = system
	s.msgs = msgs
	for _, tok := range s.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return s.err
}

func collect(t *testing.T, events <-chan models.Event) []models.Event {
	t.Helper()
	var out []models.Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
}

func newPipeline(r ContextRetriever, c llm.Client) *Pipeline {
	return NewPipeline(r, c, &config.LLMConfig{MaxContextTokens: 4096, HistoryTurns: 10})
}

func TestAsk_StreamsTokensThenCitations(t *testing.T) {
	r := &stubRetriever{results: results(2)}
	c := &scriptedClient{tokens: []string{"The answer ", "[S1]", "."}}
	p := newPipeline(r, c)

	events := collect(t, p.Ask(context.Background(), "question?", nil, nil))
	if len(events) != 4 {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	var answer strings.Builder
	for _, ev := range events[:3] {
		if ev.Type != models.EventToken {
			t.Fatalf("expected token event, got %s", ev.Type)
		}
		answer.WriteString(ev.Token)
	}
	terminal := events[3]
	if terminal.Type != models.EventCitations {
		t.Fatalf("terminal event is %s", terminal.Type)
	}
	if len(terminal.Citations) != 1 || terminal.Citations[0].DocumentID != "d1" {
		t.Errorf("citations=%+v", terminal.Citations)
	}
	if !strings.Contains(c.system, "[S1]") {
		t.Error("system prompt should carry context blocks")
	}
}

func TestAsk_NoContext(t *testing.T) {
	r := &stubRetriever{}
	c := &scriptedClient{tokens: []string{"I don't know."}}
	p := newPipeline(r, c)

	events := collect(t, p.Ask(context.Background(), "question?", nil, nil))
	terminal := events[len(events)-1]
	if terminal.Type != models.EventCitations || len(terminal.Citations) != 0 {
		t.Errorf("terminal=%+v", terminal)
	}
	if !strings.Contains(c.system, noContextNotice) {
		t.Error("system prompt should carry the no-context notice")
	}
}

func TestAsk_ScopePassedThrough(t *testing.T) {
	r := &stubRetriever{}
	c := &scriptedClient{tokens: []string{"ok"}}
	p := newPipeline(r, c)

	collect(t, p.Ask(context.Background(), "q", nil, []string{"d7"}))
	if len(r.scope) != 1 || r.scope[0] != "d7" {
		t.Errorf("scope=%v", r.scope)
	}
}

func TestAsk_RetrievalError(t *testing.T) {
	r := &stubRetriever{err: errors.New("index unavailable")}
	p := newPipeline(r, &scriptedClient{})

	events := collect(t, p.Ask(context.Background(), "q", nil, nil))
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if events[0].Type != models.EventError || events[0].Partial {
		t.Errorf("event=%+v", events[0])
	}
}

func TestAsk_MidStreamErrorIsPartial(t *testing.T) {
	r := &stubRetriever{results: results(1)}
	c := &scriptedClient{tokens: []string{"partial ", "answer"}, err: llm.ErrProvider}
	p := newPipeline(r, c)

	events := collect(t, p.Ask(context.Background(), "q", nil, nil))
	terminal := events[len(events)-1]
	if terminal.Type != models.EventError {
		t.Fatalf("terminal=%+v", terminal)
	}
	if !errors.Is(terminal.Err, llm.ErrProvider) {
		t.Errorf("err=%v", terminal.Err)
	}
	if !terminal.Partial {
		t.Error("tokens were delivered, Partial should be set")
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 2 tokens + terminal", len(events))
	}
}

// slowClient emits tokens until its context is cancelled.
type slowClient struct{}

func (slowClient) StreamChat(ctx context.Context, system string, msgs []llm.Message, onToken func(string) error) error {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
		if err := onToken("tok "); err != nil {
			return err
		}
	}
}

func TestAsk_CancelClosesStream(t *testing.T) {
	r := &stubRetriever{results: results(1)}
	p := newPipeline(r, slowClient{})

	ctx, cancel := context.WithCancel(context.Background())
	events := p.Ask(ctx, "q", nil, nil)

	for i := 0; i < 3; i++ {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("channel closed early")
			}
			if ev.Type != models.EventToken {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for tokens")
		}
	}
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return // closed promptly after cancellation
			}
		case <-deadline:
			t.Fatal("channel not closed after cancellation")
		}
	}
}

func TestBuildMessages_TrimsHistory(t *testing.T) {
	p := newPipeline(&stubRetriever{}, &scriptedClient{})
	p.historyTurns = 2

	history := make([]models.ChatMessage, 0, 10)
	for i := 0; i < 5; i++ {
		history = append(history,
			models.ChatMessage{Role: "user", Content: "q"},
			models.ChatMessage{Role: "assistant", Content: "a"},
		)
	}
	msgs := p.buildMessages("latest", history)
	// 2 turns kept (4 messages) plus the question.
	if len(msgs) != 5 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[len(msgs)-1].Content != "latest" || msgs[len(msgs)-1].Role != "user" {
		t.Errorf("last message: %+v", msgs[len(msgs)-1])
	}
}
