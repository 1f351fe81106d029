package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/celesledger/internal/ledger"
	"github.com/kalambet/celesledger/internal/memory"
	"github.com/kalambet/celesledger/internal/ollama"
)

// state is one node of the per-turn state machine.
type state int

const (
	stateStart state = iota
	stateFetch
	stateUpdate
	stateChat
	stateComment
	stateEnd
)

func (s state) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateFetch:
		return "fetch"
	case stateUpdate:
		return "update"
	case stateChat:
		return "chat"
	case stateComment:
		return "comment"
	case stateEnd:
		return "end"
	}
	return "unknown"
}

// transition is the complete transition function. The behavior decision only
// matters at start; every other state has exactly one successor.
func transition(s state, d Behavior) state {
	switch s {
	case stateStart:
		switch d {
		case BehaviorFetch:
			return stateFetch
		case BehaviorUpdate:
			return stateUpdate
		default:
			return stateChat
		}
	case stateFetch, stateUpdate:
		return stateComment
	default:
		return stateEnd
	}
}

const noResultMarker = "(no result)"

const commentInstruction = `If consumption records were fetched, comment on them briefly together with the related memories. If a new consumption record was stored, show its content to the user and add a brief remark.`

// LedgerStore is the ledger boundary the orchestrator depends on.
type LedgerStore interface {
	Query(ctx context.Context, query string) (ledger.ResultSet, error)
	InsertRecord(ctx context.Context, r ledger.Record) error
}

// MemoryStore is the semantic-memory boundary.
type MemoryStore interface {
	Put(ctx context.Context, userID, key, payload string) error
	Search(ctx context.Context, userID, query string, limit int) ([]memory.ScoredEntry, error)
}

// Deps carries the explicitly constructed collaborators for an Orchestrator.
// Store handles are injected here at startup; the package holds no globals.
type Deps struct {
	Chatter   Chatter
	ChatModel string
	Ledger    LedgerStore
	Memory    MemoryStore
	Clock     Clock // optional; wall clock when nil
	// MemoryTopK bounds fetch-path memory retrieval (default 3).
	MemoryTopK int
}

// Orchestrator drives one conversation turn end to end: classify, run the
// selected handler, and produce the final assistant reply.
type Orchestrator struct {
	chatter     Chatter
	model       string
	classifier  *Classifier
	extractor   *RecordExtractor
	synthesizer *QuerySynthesizer
	ledger      LedgerStore
	memory      MemoryStore
	clock       Clock
	checkpoints *Checkpointer
	memoryTopK  int
}

// New wires an Orchestrator from its dependencies.
func New(deps Deps) *Orchestrator {
	clock := deps.Clock
	if clock == nil {
		clock = realClock{}
	}
	topK := deps.MemoryTopK
	if topK <= 0 {
		topK = 3
	}
	return &Orchestrator{
		chatter:     deps.Chatter,
		model:       deps.ChatModel,
		classifier:  NewClassifier(deps.Chatter, deps.ChatModel),
		extractor:   NewRecordExtractor(deps.Chatter, deps.ChatModel),
		synthesizer: NewQuerySynthesizer(deps.Chatter, deps.ChatModel),
		ledger:      deps.Ledger,
		memory:      deps.Memory,
		clock:       clock,
		checkpoints: NewCheckpointer(),
		memoryTopK:  topK,
	}
}

// History exposes the accumulated conversation for a thread.
func (o *Orchestrator) History(threadID string) []ollama.Message {
	return o.checkpoints.History(threadID)
}

// Turn processes one inbound user message and returns the assistant reply.
// threadID selects the conversation state; userID namespaces memories. On an
// unrecoverable error the thread's state is left untouched — no partial
// handler output is appended.
func (o *Orchestrator) Turn(ctx context.Context, threadID, userID, userText string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", fmt.Errorf("empty user message")
	}

	th := o.checkpoints.thread(threadID)
	th.mu.Lock()
	defer th.mu.Unlock()

	// Work on a copy; commit to the checkpoint only when the turn succeeds.
	working := make([]ollama.Message, len(th.messages), len(th.messages)+3)
	copy(working, th.messages)
	working = append(working, userMessage(userText))

	decision, err := o.classifier.Classify(ctx, userText)
	if err != nil {
		return "", fmt.Errorf("routing: %w", err)
	}
	slog.Debug("turn routed", "thread", threadID, "behavior", decision)

	var reply string
	for st := transition(stateStart, decision); st != stateEnd; st = transition(st, decision) {
		switch st {
		case stateFetch:
			msg, err := o.handleFetch(ctx, userID, userText)
			if err != nil {
				return "", err
			}
			working = append(working, msg)

		case stateUpdate:
			msg, err := o.handleUpdate(ctx, userID, userText)
			if err != nil {
				return "", err
			}
			working = append(working, msg)

		case stateChat:
			content, err := o.chatter.Chat(ctx, o.model, working, nil)
			if err != nil {
				return "", fmt.Errorf("chat completion: %w", err)
			}
			working = append(working, assistantMessage(content))
			reply = content

		case stateComment:
			prompted := append(append([]ollama.Message{}, working...), systemMessage(commentInstruction))
			content, err := o.chatter.Chat(ctx, o.model, prompted, nil)
			if err != nil {
				return "", fmt.Errorf("comment completion: %w", err)
			}
			working = append(working, assistantMessage(content))
			reply = content
		}
	}

	th.messages = working
	return reply, nil
}

// handleFetch answers a question over existing records: synthesize and run a
// read-only query, search memories, and emit a system message carrying both.
// The two lookups are independent and run concurrently. A failing query
// degrades to the no-result marker so the turn still reaches the comment
// handler.
func (o *Orchestrator) handleFetch(ctx context.Context, userID, userText string) (ollama.Message, error) {
	now := o.clock.Now()

	var result string
	var memories []memory.ScoredEntry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		query, err := o.synthesizer.Synthesize(gctx, userText, ledger.SchemaDescription, now)
		if err != nil {
			return err
		}
		rs, err := o.ledger.Query(gctx, query)
		if err != nil {
			slog.Warn("ledger query failed", "query", query, "error", err)
			result = noResultMarker
			return nil
		}
		if rs.Empty() {
			result = noResultMarker
		} else {
			result = rs.String()
		}
		return nil
	})
	g.Go(func() error {
		found, err := o.memory.Search(gctx, userID, userText, o.memoryTopK)
		if err != nil {
			slog.Warn("memory search failed", "user", userID, "error", err)
			return nil
		}
		memories = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return ollama.Message{}, err
	}

	var sb strings.Builder
	sb.WriteString("Fetched consumption records:\n")
	sb.WriteString(result)
	sb.WriteString("\n\nRelated memories:\n")
	sb.WriteString(formatMemories(memories))
	return systemMessage(sb.String()), nil
}

func formatMemories(entries []memory.ScoredEntry) string {
	if len(entries) == 0 {
		return "(none)"
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("- %s", e.Payload)
	}
	return strings.Join(lines, "\n")
}

// handleUpdate extracts a record from the message and persists it to the
// ledger and the memory store. The two writes are independent; an error names
// the store that failed. A memory failure after a successful ledger insert
// leaves the ledger row in place (known consistency gap).
func (o *Orchestrator) handleUpdate(ctx context.Context, userID, userText string) (ollama.Message, error) {
	now := o.clock.Now()

	rec, err := o.extractor.Extract(ctx, userText, now)
	if err != nil {
		return ollama.Message{}, err
	}
	// The model's own original_message is not trusted.
	rec.OriginalMessage = &userText

	if err := o.ledger.InsertRecord(ctx, rec); err != nil {
		return ollama.Message{}, fmt.Errorf("ledger store: %w", err)
	}

	payload, err := MarshalRecord(rec)
	if err != nil {
		return ollama.Message{}, err
	}
	key := uuid.NewString()
	if err := o.memory.Put(ctx, userID, key, payload); err != nil {
		return ollama.Message{}, fmt.Errorf("memory store (ledger row already written): %w", err)
	}

	return systemMessage("Stored new consumption record: " + rec.Summary()), nil
}
