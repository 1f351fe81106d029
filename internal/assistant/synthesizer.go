package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/celesledger/internal/ollama"
)

const synthesizeTimeout = 60 * time.Second

const synthesizeInstructionTemplate = `You are a professional SQL query generator. Generate one standard, executable SQLite query against the consumption-records table that retrieves the full rows answering the user's natural-language question.

The table schema:
%s

The current time is %s; resolve any relative dates in the question against it.

Rules:
- The query must not modify the database.
- Return only the SQL query text, no explanation or extra information.
- Do not include any XML tags.
- Do not include any Markdown syntax.
- The SQL must be standard and executable in SQLite.`

// QuerySynthesizer turns a free-text question plus the ledger schema into a
// read-only SQL query string. Read-only is requested here but enforced by the
// ledger store's query_only execution mode.
type QuerySynthesizer struct {
	chatter Chatter
	model   string
}

// NewQuerySynthesizer creates a QuerySynthesizer using the given chatter and model.
func NewQuerySynthesizer(chatter Chatter, model string) *QuerySynthesizer {
	return &QuerySynthesizer{chatter: chatter, model: model}
}

// Synthesize returns the SQL text for the question. Markdown fences are
// stripped in case the model ignores the formatting rules.
func (s *QuerySynthesizer) Synthesize(ctx context.Context, question, schemaDescription string, now time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, synthesizeTimeout)
	defer cancel()

	instruction := fmt.Sprintf(synthesizeInstructionTemplate,
		schemaDescription, now.Format("2006-01-02 15:04:05"))
	messages := []ollama.Message{
		systemMessage(instruction),
		userMessage(question),
	}

	raw, err := s.chatter.Chat(ctx, s.model, messages, nil)
	if err != nil {
		return "", fmt.Errorf("synthesizing query: %w", err)
	}

	query := sanitizeQuery(raw)
	if query == "" {
		return "", fmt.Errorf("completion service returned an empty query")
	}
	return query, nil
}

// sanitizeQuery strips surrounding whitespace and Markdown code fences.
func sanitizeQuery(raw string) string {
	q := strings.TrimSpace(raw)
	if strings.HasPrefix(q, "```") {
		q = strings.TrimPrefix(q, "```")
		// Language tag on the opening fence, e.g. ```sql
		if idx := strings.Index(q, "\n"); idx >= 0 && !strings.ContainsAny(q[:idx], " \t") {
			q = q[idx+1:]
		}
		q = strings.TrimSuffix(strings.TrimSpace(q), "```")
	}
	return strings.TrimSpace(q)
}
