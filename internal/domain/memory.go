package domain

import (
	"context"
	"time"
)

// Record is one stored conversation turn or knowledge item.
type Record struct {
	ID        int64     `json:"id"`
	SenderID  string    `json:"sender_id"`
	GroupID   string    `json:"group_id,omitempty"`
	Role      string    `json:"role"` // user | bot
	Content   string    `json:"content"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredRecord pairs a record with its similarity score.
type ScoredRecord struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// SearchFilters narrows a similarity search.
type SearchFilters struct {
	SenderID string
	GroupID  string
}

// MemoryStore is the narrow persistence contract the runtime depends on.
// The runtime never inspects storage internals.
type MemoryStore interface {
	Add(ctx context.Context, rec Record) (int64, error)
	// GetRecent returns the newest records for a conversation key (a sender
	// id for private chats, a group id for group chats), newest first.
	GetRecent(ctx context.Context, key string, limit int) ([]Record, error)
	SearchSimilar(ctx context.Context, vector []float64, filters SearchFilters, limit int) ([]ScoredRecord, error)
	Close() error
}
