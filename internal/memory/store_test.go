package memory

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"personabot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), slog.Default())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func addRecord(t *testing.T, store *SQLiteStore, rec domain.Record) int64 {
	t.Helper()
	id, err := store.Add(context.Background(), rec)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return id
}

func TestAddAndGetRecent(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().Add(-time.Hour)

	// Private conversation with u1 plus an unrelated sender.
	for i, content := range []string{"first", "second", "third"} {
		addRecord(t, store, domain.Record{
			SenderID:  "u1",
			Role:      "user",
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	addRecord(t, store, domain.Record{SenderID: "u2", Role: "user", Content: "noise", CreatedAt: base})

	recent, err := store.GetRecent(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d records, want 2", len(recent))
	}
	if recent[0].Content != "third" || recent[1].Content != "second" {
		t.Fatalf("wrong order: %q, %q", recent[0].Content, recent[1].Content)
	}
}

func TestGetRecent_GroupKeyMatchesBothSides(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	// A group turn from a user and the bot's reply into the same group.
	addRecord(t, store, domain.Record{SenderID: "u1", GroupID: "g1", Role: "user", Content: "ping", CreatedAt: now})
	addRecord(t, store, domain.Record{SenderID: "bot", GroupID: "g1", Role: "bot", Content: "pong", CreatedAt: now.Add(time.Second)})
	// A private turn that must not leak into the group history.
	addRecord(t, store, domain.Record{SenderID: "u1", Role: "user", Content: "private", CreatedAt: now})

	recent, err := store.GetRecent(context.Background(), "g1", 10)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d records, want 2", len(recent))
	}
	for _, rec := range recent {
		if rec.GroupID != "g1" {
			t.Fatalf("record outside group: %+v", rec)
		}
	}
}

func TestSearchSimilar(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	addRecord(t, store, domain.Record{
		SenderID: "u1", Role: "user", Content: "about cats",
		Embedding: []float64{1, 0, 0}, CreatedAt: now,
	})
	addRecord(t, store, domain.Record{
		SenderID: "u1", Role: "user", Content: "about dogs",
		Embedding: []float64{0, 1, 0}, CreatedAt: now,
	})
	// No embedding: must be skipped, not an error.
	addRecord(t, store, domain.Record{SenderID: "u1", Role: "user", Content: "plain", CreatedAt: now})
	// Mismatched dimension: skipped too.
	addRecord(t, store, domain.Record{
		SenderID: "u1", Role: "user", Content: "odd",
		Embedding: []float64{1, 1}, CreatedAt: now,
	})

	scored, err := store.SearchSimilar(context.Background(), []float64{0.9, 0.1, 0}, domain.SearchFilters{SenderID: "u1"}, 5)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("got %d results, want 2", len(scored))
	}
	if scored[0].Record.Content != "about cats" {
		t.Fatalf("best match = %q", scored[0].Record.Content)
	}
	if scored[0].Score <= scored[1].Score {
		t.Fatalf("scores not descending: %v, %v", scored[0].Score, scored[1].Score)
	}
}

func TestSearchSimilar_EmptyVector(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.SearchSimilar(context.Background(), nil, domain.SearchFilters{}, 5); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestSearchSimilar_GroupFilter(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	addRecord(t, store, domain.Record{
		SenderID: "u1", GroupID: "g1", Role: "user", Content: "in group",
		Embedding: []float64{1, 0}, CreatedAt: now,
	})
	addRecord(t, store, domain.Record{
		SenderID: "u1", Role: "user", Content: "in private",
		Embedding: []float64{1, 0}, CreatedAt: now,
	})

	scored, err := store.SearchSimilar(context.Background(), []float64{1, 0}, domain.SearchFilters{GroupID: "g1"}, 5)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(scored) != 1 || scored[0].Record.Content != "in group" {
		t.Fatalf("group filter leaked: %+v", scored)
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	vec := []float64{0.25, -0.5, 0.125}
	addRecord(t, store, domain.Record{
		SenderID: "u1", Role: "user", Content: "vec", Embedding: vec, CreatedAt: time.Now(),
	})

	recent, err := store.GetRecent(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(recent) != 1 || len(recent[0].Embedding) != 3 {
		t.Fatalf("embedding lost: %+v", recent)
	}
	for i := range vec {
		if recent[0].Embedding[i] != vec[i] {
			t.Fatalf("embedding[%d] = %v, want %v", i, recent[0].Embedding[i], vec[i])
		}
	}
}
