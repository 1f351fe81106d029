// Package memory is the semantic memory store: a namespaced association from
// opaque keys to record payloads, searchable by embedding similarity. It
// shares the ledger's SQLite database and uses brute-force cosine search,
// which is comfortable at personal-ledger scale.
package memory

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// TextEmbedder turns text into an embedding vector. Satisfied by *Embedder
// in this package; tests substitute deterministic fakes.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Entry is one stored memory.
type Entry struct {
	Key       string    `json:"key"`
	UserID    string    `json:"user_id"`
	Payload   string    `json:"payload"` // JSON-encoded record
	CreatedAt time.Time `json:"created_at"`
}

// ScoredEntry is an Entry with its cosine similarity to the search query.
type ScoredEntry struct {
	Entry
	Score float32 `json:"score"`
}

// Store reads and writes the memories table.
type Store struct {
	db       *sql.DB
	embedder TextEmbedder
}

// NewStore wraps the shared database handle. The memories table must already
// exist (created by the ledger migrations).
func NewStore(db *sql.DB, embedder TextEmbedder) *Store {
	return &Store{db: db, embedder: embedder}
}

// Put embeds the payload and writes it under (userID, key). Keys are expected
// to be fresh uuids; writing an existing key is an error.
func (s *Store) Put(ctx context.Context, userID, key, payload string) error {
	vec, err := s.embedder.Embed(ctx, payload)
	if err != nil {
		return fmt.Errorf("embedding payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, payload, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		key, userID, payload, encodeFloat32s(vec), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting memory %s: %w", key, err)
	}
	return nil
}

// Search embeds the query and returns up to limit entries for userID, most
// similar first. Only the given user's namespace is scanned.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) ([]ScoredEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, embedding, created_at
		FROM memories WHERE user_id = ?`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	h := &scoredHeap{}
	heap.Init(h)

	// Reusable buffer to avoid per-row allocations while scanning.
	var buf []float32

	for rows.Next() {
		var e Entry
		var blob []byte
		var createdAt string
		if err := rows.Scan(&e.Key, &e.Payload, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", e.Key, err)
		}

		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", e.Key, err)
		}
		e.CreatedAt = t
		e.UserID = userID

		score := cosine(vec, buf, queryNorm)
		if h.Len() < limit {
			heap.Push(h, ScoredEntry{Entry: e, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = ScoredEntry{Entry: e, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}

	// Drain the min-heap into descending order.
	results := make([]ScoredEntry, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(ScoredEntry)
	}
	return results, nil
}

// Count returns the number of memories stored for userID.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memories WHERE user_id = ?", userID).Scan(&count)
	return count, err
}

// ClearUser removes every memory in the user's namespace.
func (s *Store) ClearUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("clearing memories for %s: %w", userID, err)
	}
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it when large enough.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|) with aNorm precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// scoredHeap is a min-heap of ScoredEntry ordered by Score, used to track
// the current top-K during a scan.
type scoredHeap []ScoredEntry

func (h scoredHeap) Len() int            { return len(h) }
func (h scoredHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h scoredHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x interface{}) { *h = append(*h, x.(ScoredEntry)) }
func (h *scoredHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
