package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/celesledger/internal/ledger"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestExtractLines_PlainText(t *testing.T) {
	path := writeTemp(t, "statement.txt", "午饭 -25 2025-05-01\n\n  咖啡 -18 2025-05-01  \n")
	lines, err := ExtractLines(path)
	if err != nil {
		t.Fatalf("ExtractLines: %v", err)
	}
	want := []string{"午饭 -25 2025-05-01", "咖啡 -18 2025-05-01"}
	if len(lines) != len(want) {
		t.Fatalf("len(lines) = %d, want %d", len(lines), len(want))
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestExtractLines_HTML(t *testing.T) {
	page := `<html><head><title>对账单</title>
<script>var tracking = "noise";</script>
<style>td { color: red }</style></head>
<body><table><tr><td>午饭 -25</td></tr><tr><td>咖啡 -18</td></tr></table></body></html>`
	path := writeTemp(t, "statement.html", page)

	lines, err := ExtractLines(path)
	if err != nil {
		t.Fatalf("ExtractLines: %v", err)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "午饭 -25") || !strings.Contains(joined, "咖啡 -18") {
		t.Errorf("table rows missing from %q", joined)
	}
	if strings.Contains(joined, "tracking") || strings.Contains(joined, "color") {
		t.Errorf("script/style content leaked into %q", joined)
	}
}

func TestExtractLines_MissingFile(t *testing.T) {
	if _, err := ExtractLines(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatal("missing file should be an error")
	}
}

type lineExtractor struct{}

// Extract parses "item cost" lines; anything else errors.
func (lineExtractor) Extract(_ context.Context, message string, _ time.Time) (ledger.Record, error) {
	fields := strings.Fields(message)
	if len(fields) != 2 {
		return ledger.Record{}, fmt.Errorf("unparseable line")
	}
	var cost float64
	if _, err := fmt.Sscanf(fields[1], "%f", &cost); err != nil {
		return ledger.Record{}, fmt.Errorf("bad cost %q", fields[1])
	}
	return ledger.Record{Item: &fields[0], Cost: &cost}, nil
}

type memLedger struct {
	mu      sync.Mutex
	records []ledger.Record
}

func (m *memLedger) InsertRecord(_ context.Context, r ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

type memWrites struct {
	mu   sync.Mutex
	puts int
}

func (m *memWrites) Put(context.Context, string, string, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	return nil
}

type stoppedClock struct{}

func (stoppedClock) Now() time.Time { return time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC) }

func TestImportLines_ToleratesBadLines(t *testing.T) {
	led := &memLedger{}
	mem := &memWrites{}
	im := NewImporter(lineExtractor{}, led, mem, stoppedClock{})

	report := im.ImportLines(context.Background(), []string{
		"午饭 -25",
		"this line has no price at all",
		"咖啡 -18",
	}, "alice")

	if report.Imported != 2 {
		t.Errorf("Imported = %d, want 2", report.Imported)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("len(Failed) = %d, want 1", len(report.Failed))
	}
	if report.Failed[0].Line != 2 {
		t.Errorf("Failed[0].Line = %d, want 2", report.Failed[0].Line)
	}
	if len(led.records) != 2 {
		t.Errorf("ledger rows = %d, want 2", len(led.records))
	}
	if mem.puts != 2 {
		t.Errorf("memory puts = %d, want 2", mem.puts)
	}
	// The verbatim line is kept on every imported record.
	for _, r := range led.records {
		if r.OriginalMessage == nil || !strings.Contains(*r.OriginalMessage, *r.Item) {
			t.Errorf("original_message not preserved on %+v", r)
		}
	}
}

func TestImportLines_NilMemorySkipsMirror(t *testing.T) {
	led := &memLedger{}
	im := NewImporter(lineExtractor{}, led, nil, stoppedClock{})

	report := im.ImportLines(context.Background(), []string{"午饭 -25"}, "alice")
	if report.Imported != 1 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(led.records) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(led.records))
	}
}
