// Package assistant holds the conversational core: the behavior classifier,
// the record extractor, the query synthesizer, and the turn orchestrator
// that wires them into a small finite-state machine.
package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/kalambet/celesledger/internal/ollama"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
)

func systemMessage(content string) ollama.Message {
	return ollama.Message{Role: roleSystem, Content: content}
}

func userMessage(content string) ollama.Message {
	return ollama.Message{Role: roleUser, Content: content}
}

func assistantMessage(content string) ollama.Message {
	return ollama.Message{Role: roleAssistant, Content: content}
}

// Chatter is the completion-service boundary. Satisfied by *ollama.Client;
// tests substitute scripted mocks.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// Clock abstracts wall-clock time. The orchestrator reads it once per turn so
// relative dates ("yesterday") resolve against the turn's time, not process
// start.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock Clock used when none is injected.
func SystemClock() Clock { return realClock{} }

// Checkpointer keeps conversation state across turns, keyed by thread id.
// Each thread carries its own lock: turns on the same thread are serialized,
// turns on different threads proceed independently.
type Checkpointer struct {
	mu      sync.Mutex
	threads map[string]*thread
}

type thread struct {
	mu       sync.Mutex
	messages []ollama.Message
}

// NewCheckpointer creates an empty in-memory checkpointer.
func NewCheckpointer() *Checkpointer {
	return &Checkpointer{threads: make(map[string]*thread)}
}

func (c *Checkpointer) thread(id string) *thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.threads[id]
	if !ok {
		th = &thread{}
		c.threads[id] = th
	}
	return th
}

// History returns a copy of the accumulated messages for a thread. Mostly
// useful for tests and debugging endpoints.
func (c *Checkpointer) History(id string) []ollama.Message {
	th := c.thread(id)
	th.mu.Lock()
	defer th.mu.Unlock()
	out := make([]ollama.Message, len(th.messages))
	copy(out, th.messages)
	return out
}
