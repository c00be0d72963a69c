package restruct

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
)

// ScriptedModel replays canned responses in order, for tests and examples.
// When streaming, each response is split into Chunk-sized text deltas.
type ScriptedModel struct {
	Responses []*Response
	Errors    []error // Errors[i], when non-nil, is returned by call i instead
	Chunk     int     // stream delta size; 0 → whole response in one delta

	mu    sync.Mutex
	calls [][]*Message
}

var _ StreamingModel = (*ScriptedModel)(nil)

// NewScriptedModel scripts text responses with no usage.
func NewScriptedModel(texts ...string) *ScriptedModel {
	m := &ScriptedModel{}
	for _, t := range texts {
		m.Responses = append(m.Responses, &Response{Text: t})
	}
	return m
}

var errScriptExhausted = errors.New("scripted model: no response left")

func (m *ScriptedModel) next(conversation []*Message) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.calls)
	m.calls = append(m.calls, slices.Clone(conversation))
	if i < len(m.Errors) && m.Errors[i] != nil {
		return nil, m.Errors[i]
	}
	if i >= len(m.Responses) {
		return nil, errScriptExhausted
	}
	return m.Responses[i], nil
}

func (m *ScriptedModel) Generate(ctx context.Context, conversation []*Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.next(conversation)
}

func (m *ScriptedModel) GenerateStream(ctx context.Context, conversation []*Message) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		resp, err := m.next(conversation)
		if err != nil {
			yield(nil, err)
			return
		}
		size := m.Chunk
		if size <= 0 || size > len(resp.Text) {
			size = max(len(resp.Text), 1)
		}
		text := resp.Text
		for len(text) > 0 {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			n := min(size, len(text))
			if !yield(&Response{Text: text[:n]}, nil) {
				return
			}
			text = text[n:]
		}
		yield(&Response{ToolCalls: resp.ToolCalls, Usage: resp.Usage}, nil)
	}
}

// Calls returns the number of requests made so far.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Conversation returns the messages sent with call i.
func (m *ScriptedModel) Conversation(i int) []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.calls) {
		return nil
	}
	return m.calls[i]
}

// NewForTesting creates an Extractor over scripted responses that doesn't
// require a real client.
func NewForTesting[T any](p PromptProvider, responses ...string) (*Extractor[T], *ScriptedModel) {
	m := NewScriptedModel(responses...)
	return NewWithModel[T](m, p, slog.Default()), m
}
