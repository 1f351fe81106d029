package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/kalambet/celesledger/internal/ledger"
)

// fakeEmbedder maps known substrings to fixed vectors so similarity is
// deterministic. Unknown text embeds to a distant vector.
type fakeEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	for key, vec := range f.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return f.fallback, nil
}

func newTestStore(t *testing.T, emb TextEmbedder) *Store {
	t.Helper()
	ls, err := ledger.Open(":memory:")
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { ls.Close() })
	return NewStore(ls.DB(), emb)
}

func TestPutAndSearch(t *testing.T) {
	emb := &fakeEmbedder{
		vectors: map[string][]float32{
			"午饭": {1, 0, 0},
			"音箱": {0, 1, 0},
			"房租": {0, 0, 1},
		},
		fallback: []float32{0.5, 0.5, 0},
	}
	s := newTestStore(t, emb)
	ctx := context.Background()

	puts := map[string]string{
		"k1": `{"item":"午饭","cost":-25}`,
		"k2": `{"item":"音箱","cost":-300}`,
		"k3": `{"item":"房租","cost":-3000}`,
	}
	for key, payload := range puts {
		if err := s.Put(ctx, "alice", key, payload); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	got, err := s.Search(ctx, "alice", "我午饭花了多少钱", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(got))
	}
	if !strings.Contains(got[0].Payload, "午饭") {
		t.Errorf("top result = %q, want the lunch memory", got[0].Payload)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("results not in descending score order: %v < %v", got[0].Score, got[1].Score)
	}
}

func TestSearchNamespaceIsolation(t *testing.T) {
	emb := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	s := newTestStore(t, emb)
	ctx := context.Background()

	if err := s.Put(ctx, "alice", "k1", `{"item":"午饭"}`); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Search(ctx, "bob", "午饭", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("bob sees %d of alice's memories, want 0", len(got))
	}
}

func TestSearchLimit(t *testing.T) {
	emb := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	s := newTestStore(t, emb)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		if err := s.Put(ctx, "alice", key, "payload "+key); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := s.Search(ctx, "alice", "anything", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len(results) = %d, want 3", len(got))
	}
}

func TestPutDuplicateKey(t *testing.T) {
	emb := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	s := newTestStore(t, emb)
	ctx := context.Background()

	if err := s.Put(ctx, "alice", "k1", "one"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "alice", "k1", "two"); err == nil {
		t.Fatal("second Put with same key should fail")
	}
}

func TestCountAndClearUser(t *testing.T) {
	emb := &fakeEmbedder{fallback: []float32{1, 0, 0}}
	s := newTestStore(t, emb)
	ctx := context.Background()

	s.Put(ctx, "alice", "k1", "one")
	s.Put(ctx, "alice", "k2", "two")
	s.Put(ctx, "bob", "k3", "three")

	n, err := s.Count(ctx, "alice")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count(alice) = %d, want 2", n)
	}

	if err := s.ClearUser(ctx, "alice"); err != nil {
		t.Fatalf("ClearUser: %v", err)
	}
	n, _ = s.Count(ctx, "alice")
	if n != 0 {
		t.Errorf("Count(alice) after clear = %d, want 0", n)
	}
	n, _ = s.Count(ctx, "bob")
	if n != 1 {
		t.Errorf("Count(bob) = %d, want 1 (must survive alice's clear)", n)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75}
	out, err := decodeFloat32sInto(nil, encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecodeCorruptBlob(t *testing.T) {
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3}); err == nil {
		t.Fatal("decode of non-multiple-of-4 blob should fail")
	}
}
