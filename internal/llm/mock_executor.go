package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTurn is one scripted response of the mock executor.
type MockTurn struct {
	Text      string        // Text to emit, split into small deltas
	Chunks    []Chunk       // Emitted verbatim instead of Text when set
	Usage     *Usage        // Usage chunk sent after the text
	Delay     time.Duration // Delay before the first chunk
	Error     error         // Stream fails with this error before any chunk
	FailAfter error         // Stream fails with this error after all chunks
	Block     bool          // Wait for cancellation after the chunks
	ThreadID  string        // Reported through Hooks.OnThreadStarted
	SessionID string        // Reported through Hooks.OnSessionID
}

// MockExecutor is a scripted executor for tests. It records every request.
type MockExecutor struct {
	name      string
	turns     []MockTurn
	turnIndex int
	Requests  []Request
	mu        sync.Mutex
}

// NewMockExecutor creates a mock executor with the given name.
func NewMockExecutor(name string) *MockExecutor {
	return &MockExecutor{name: name}
}

// Name returns the executor name.
func (m *MockExecutor) Name() string {
	return m.name
}

// AddTurn adds a response turn and returns the executor for chaining.
func (m *MockExecutor) AddTurn(t MockTurn) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

// AddTextResponse adds a plain text turn.
func (m *MockExecutor) AddTextResponse(text string) *MockExecutor {
	return m.AddTurn(MockTurn{Text: text})
}

// AddError adds a turn whose stream fails immediately.
func (m *MockExecutor) AddError(err error) *MockExecutor {
	return m.AddTurn(MockTurn{Error: err})
}

// RequestCount returns how many requests were executed.
func (m *MockExecutor) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request.
func (m *MockExecutor) LastRequest() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return Request{}, false
	}
	return m.Requests[len(m.Requests)-1], true
}

func (m *MockExecutor) Execute(ctx context.Context, req Request) (ChunkStream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	if m.turnIndex >= len(m.turns) {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock executor: no more turns configured (expected turn %d, have %d)", m.turnIndex, len(m.turns))
	}
	turn := m.turns[m.turnIndex]
	m.turnIndex++
	m.mu.Unlock()

	return newChunkStream(ctx, func(ctx context.Context, ch chan<- streamItem) error {
		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-time.After(turn.Delay):
			}
		}
		if turn.Error != nil {
			return turn.Error
		}
		if turn.ThreadID != "" && req.Hooks.OnThreadStarted != nil {
			req.Hooks.OnThreadStarted(turn.ThreadID)
		}
		if turn.SessionID != "" && req.Hooks.OnSessionID != nil {
			req.Hooks.OnSessionID(turn.SessionID)
		}

		chunks := turn.Chunks
		if chunks == nil {
			for _, text := range chunkText(turn.Text, 10) {
				chunks = append(chunks, TextChunk(text))
			}
			if turn.Usage != nil {
				chunks = append(chunks, Chunk{Usage: turn.Usage})
			}
			if !turn.Block && turn.FailAfter == nil {
				chunks = append(chunks, Chunk{Done: true})
			}
		}
		for _, c := range chunks {
			if err := send(ctx, ch, c); err != nil {
				return err
			}
		}
		if turn.Block {
			<-ctx.Done()
			return context.Cause(ctx)
		}
		return turn.FailAfter
	}), nil
}

// chunkText splits text into chunks of approximately the given size.
// It tries to break at word boundaries when possible.
func chunkText(text string, chunkSize int) []string {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}

		breakPoint := chunkSize
		for i := chunkSize; i > chunkSize/2; i-- {
			if text[i] == ' ' {
				breakPoint = i + 1
				break
			}
		}

		chunks = append(chunks, text[:breakPoint])
		text = text[breakPoint:]
	}
	return chunks
}
