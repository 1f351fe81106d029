package assistant

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/celesledger/internal/ledger"
	"github.com/kalambet/celesledger/internal/ollama"
)

func TestSynthesize_PlainQuery(t *testing.T) {
	s := NewQuerySynthesizer(staticChatter("SELECT * FROM consumption_records WHERE item = '午饭'", nil), "qwen2.5")
	got, err := s.Synthesize(context.Background(), "我午饭花了多少钱？", ledger.SchemaDescription, testNow)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got != "SELECT * FROM consumption_records WHERE item = '午饭'" {
		t.Errorf("Synthesize = %q", got)
	}
}

func TestSynthesize_StripsCodeFences(t *testing.T) {
	cases := []string{
		"```sql\nSELECT * FROM consumption_records\n```",
		"```\nSELECT * FROM consumption_records\n```",
		"\n  SELECT * FROM consumption_records  \n",
	}
	for _, raw := range cases {
		s := NewQuerySynthesizer(staticChatter(raw, nil), "qwen2.5")
		got, err := s.Synthesize(context.Background(), "q", ledger.SchemaDescription, testNow)
		if err != nil {
			t.Fatalf("Synthesize(%q): %v", raw, err)
		}
		if got != "SELECT * FROM consumption_records" {
			t.Errorf("Synthesize(%q) = %q", raw, got)
		}
	}
}

func TestSynthesize_EmptyOutput(t *testing.T) {
	s := NewQuerySynthesizer(staticChatter("   \n", nil), "qwen2.5")
	if _, err := s.Synthesize(context.Background(), "q", ledger.SchemaDescription, testNow); err == nil {
		t.Fatal("empty query should be an error")
	}
}

func TestSynthesize_CompletionError(t *testing.T) {
	s := NewQuerySynthesizer(staticChatter("", fmt.Errorf("down")), "qwen2.5")
	if _, err := s.Synthesize(context.Background(), "q", ledger.SchemaDescription, testNow); err == nil {
		t.Fatal("completion failure should propagate")
	}
}

func TestSynthesize_PromptCarriesSchemaAndClock(t *testing.T) {
	var instruction string
	chatter := chatterFunc(func(_ context.Context, _ string, messages []ollama.Message, schema *ollama.Schema) (string, error) {
		if schema != nil {
			t.Error("query synthesis is a free-text completion, not structured output")
		}
		instruction = messages[0].Content
		return "SELECT 1", nil
	})

	s := NewQuerySynthesizer(chatter, "qwen2.5")
	if _, err := s.Synthesize(context.Background(), "q", ledger.SchemaDescription, testNow); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if !strings.Contains(instruction, "consumption_records") {
		t.Error("instruction missing the table schema")
	}
	if !strings.Contains(instruction, "2025-05-02 12:30:00") {
		t.Error("instruction missing the turn's time")
	}
	if !strings.Contains(instruction, "must not modify") {
		t.Error("instruction missing the read-only constraint")
	}
}
