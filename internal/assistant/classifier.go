package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/celesledger/internal/ollama"
)

// Behavior is the routing decision for one turn.
type Behavior string

const (
	// BehaviorFetch: the user wants to know something about existing records.
	BehaviorFetch Behavior = "fetch"
	// BehaviorUpdate: the message carries new consumption or income
	// information that should be persisted.
	BehaviorUpdate Behavior = "update"
	// BehaviorChat: the message is unrelated to the ledger.
	BehaviorChat Behavior = "chat"
)

const classifyTimeout = 30 * time.Second

const classifyInstruction = `Based on the following user message, decide what to do next. Output a single JSON object conforming to the schema, nothing else.`

const behaviorKeyDescription = `Must be exactly one of "fetch", "update" or "chat".
"fetch": the user wants to know something recorded in the consumption ledger; entries should be retrieved from the database.
"update": the user's message contains consumption or income information; the ledger database should be updated.
"chat": the message is unrelated to personal finances; reply conversationally.`

// Classifier routes the latest user message to one of the three behaviors
// via structured output.
type Classifier struct {
	chatter Chatter
	model   string
}

// NewClassifier creates a Classifier using the given chatter and model.
func NewClassifier(chatter Chatter, model string) *Classifier {
	return &Classifier{chatter: chatter, model: model}
}

// Classify returns the behavior for the latest user message. A value outside
// the three-way enumeration is a contract violation of the completion service
// and is returned as an error, never silently mapped to a default.
func (c *Classifier) Classify(ctx context.Context, latestUserMessage string) (Behavior, error) {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	messages := []ollama.Message{
		systemMessage(classifyInstruction),
		userMessage(latestUserMessage),
	}

	raw, err := c.chatter.Chat(ctx, c.model, messages, behaviorSchema())
	if err != nil {
		return "", fmt.Errorf("classifying behavior: %w", err)
	}

	var out struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("unmarshalling behavior from %q: %w", raw, err)
	}

	switch b := Behavior(out.Key); b {
	case BehaviorFetch, BehaviorUpdate, BehaviorChat:
		return b, nil
	default:
		return "", fmt.Errorf("completion service returned behavior %q, want one of fetch/update/chat", out.Key)
	}
}

func behaviorSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"key": {Type: "string", Description: behaviorKeyDescription},
		},
		Required: []string{"key"},
	}
}
