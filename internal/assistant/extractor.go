package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/celesledger/internal/ledger"
	"github.com/kalambet/celesledger/internal/ollama"
)

const extractTimeout = 60 * time.Second

const extractInstructionTemplate = `You are a consumption-record extraction engine. Summarize the value of each field of the consumption record from the user's natural-language message. The current time is %s; resolve any relative dates ("yesterday", "last Friday") against it. Output a single JSON object conforming to the schema, nothing else.`

// RecordExtractor turns a free-text message plus the turn's time into a typed
// ledger record via structured output.
type RecordExtractor struct {
	chatter Chatter
	model   string
}

// NewRecordExtractor creates a RecordExtractor using the given chatter and model.
func NewRecordExtractor(chatter Chatter, model string) *RecordExtractor {
	return &RecordExtractor{chatter: chatter, model: model}
}

// recordFields mirrors ledger.Record for JSON. Pointer fields stay nil when
// the model omits them, which becomes SQL NULL downstream — absent is never
// conflated with empty string.
type recordFields struct {
	Item            *string  `json:"item"`
	Cost            *float64 `json:"cost"`
	Time            *string  `json:"time"`
	Type            *string  `json:"type"`
	Subtype         *string  `json:"subtype"`
	OriginalMessage *string  `json:"original_message"`
}

func (f recordFields) toRecord() ledger.Record {
	return ledger.Record{
		Item:            f.Item,
		Cost:            f.Cost,
		Time:            f.Time,
		Type:            f.Type,
		Subtype:         f.Subtype,
		OriginalMessage: f.OriginalMessage,
	}
}

// MarshalRecord renders a record as the JSON payload stored in the memory
// store.
func MarshalRecord(r ledger.Record) (string, error) {
	b, err := json.Marshal(recordFields{
		Item:            r.Item,
		Cost:            r.Cost,
		Time:            r.Time,
		Type:            r.Type,
		Subtype:         r.Subtype,
		OriginalMessage: r.OriginalMessage,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling record payload: %w", err)
	}
	return string(b), nil
}

// Extract parses one consumption record out of the message. Fields the model
// cannot resolve come back nil; a completion failure or malformed JSON is an
// error. Callers must not trust OriginalMessage and should overwrite it with
// the verbatim user text.
func (e *RecordExtractor) Extract(ctx context.Context, message string, now time.Time) (ledger.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	instruction := fmt.Sprintf(extractInstructionTemplate, now.Format("2006-01-02 15:04:05"))
	messages := []ollama.Message{
		systemMessage(instruction),
		userMessage(message),
	}

	raw, err := e.chatter.Chat(ctx, e.model, messages, recordSchema())
	if err != nil {
		return ledger.Record{}, fmt.Errorf("extracting record: %w", err)
	}

	var fields recordFields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return ledger.Record{}, fmt.Errorf("unmarshalling record from %q: %w", raw, err)
	}
	return fields.toRecord(), nil
}

func recordSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"item": {
				Type:        "string",
				Description: "Name of the purchased item or income source",
			},
			"cost": {
				Type:        "number",
				Description: "Amount of this expense or income; expenses are negative, income is positive",
			},
			"time": {
				Type:        "string",
				Description: `When the expense or income happened, formatted "YYYY-MM-DD", resolved against the current time given in the instruction`,
			},
			"type": {
				Type:        "string",
				Description: "Category of this record, one of: " + strings.Join(ledger.Categories, ", "),
			},
			"subtype": {
				Type:        "string",
				Description: "Free-text subcategory under type",
			},
			"original_message": {
				Type:        "string",
				Description: "The user's original message, verbatim",
			},
		},
	}
}
