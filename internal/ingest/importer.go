package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/celesledger/internal/assistant"
	"github.com/kalambet/celesledger/internal/ledger"
)

const importConcurrency = 4

// Extractor turns one statement line into a consumption record.
type Extractor interface {
	Extract(ctx context.Context, message string, now time.Time) (ledger.Record, error)
}

// LedgerWriter is the ledger side of an import.
type LedgerWriter interface {
	InsertRecord(ctx context.Context, r ledger.Record) error
}

// MemoryWriter mirrors imported records into semantic memory. Optional.
type MemoryWriter interface {
	Put(ctx context.Context, userID, key, payload string) error
}

// LineError records one statement line that could not be imported.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d (%s): %v", e.Line, e.Text, e.Err)
}

// Report summarizes an import run.
type Report struct {
	Imported int
	Failed   []LineError
}

// Importer extracts records from statement lines and persists them. Line
// failures are collected rather than aborting the run; a statement with a
// few malformed rows still imports the rest.
type Importer struct {
	extractor Extractor
	ledger    LedgerWriter
	memory    MemoryWriter
	clock     assistant.Clock
}

// NewImporter wires an Importer. memory may be nil to skip the mirror.
func NewImporter(extractor Extractor, ledger LedgerWriter, memory MemoryWriter, clock assistant.Clock) *Importer {
	return &Importer{extractor: extractor, ledger: ledger, memory: memory, clock: clock}
}

// ImportFile extracts the statement at path and imports every line for userID.
func (im *Importer) ImportFile(ctx context.Context, path, userID string) (Report, error) {
	lines, err := ExtractLines(path)
	if err != nil {
		return Report{}, err
	}
	return im.ImportLines(ctx, lines, userID), nil
}

// ImportLines runs extraction and persistence for each line, a few at a time.
func (im *Importer) ImportLines(ctx context.Context, lines []string, userID string) Report {
	now := im.clock.Now()

	var mu sync.Mutex
	var report Report

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)
	for i, line := range lines {
		g.Go(func() error {
			if err := im.importLine(gctx, line, userID, now); err != nil {
				slog.Warn("statement line skipped", "line", i+1, "error", err)
				mu.Lock()
				report.Failed = append(report.Failed, LineError{Line: i + 1, Text: line, Err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Imported++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return report
}

func (im *Importer) importLine(ctx context.Context, line, userID string, now time.Time) error {
	rec, err := im.extractor.Extract(ctx, line, now)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	rec.OriginalMessage = &line

	if err := im.ledger.InsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("ledger store: %w", err)
	}

	if im.memory == nil {
		return nil
	}
	payload, err := assistant.MarshalRecord(rec)
	if err != nil {
		return err
	}
	if err := im.memory.Put(ctx, userID, uuid.NewString(), payload); err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	return nil
}
