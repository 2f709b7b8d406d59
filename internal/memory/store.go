// Package memory persists conversation turns in SQLite and answers the
// recency and similarity queries the pipeline depends on.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"personabot/internal/domain"
)

// similarityScanCap bounds how many candidate rows one similarity search
// loads before ranking in memory.
const similarityScanCap = 512

// SQLiteStore implements domain.MemoryStore on a single-connection SQLite
// database. Embeddings are stored as JSON arrays; similarity is cosine
// distance computed in process.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id   TEXT NOT NULL,
		group_id    TEXT NOT NULL DEFAULT '',
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		embedding   TEXT,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_sender ON records(sender_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_records_group  ON records(group_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add stores one record and returns its id.
func (s *SQLiteStore) Add(ctx context.Context, rec domain.Record) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	var embedding any
	if len(rec.Embedding) > 0 {
		data, err := json.Marshal(rec.Embedding)
		if err != nil {
			return 0, fmt.Errorf("encode embedding: %w", err)
		}
		embedding = string(data)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (sender_id, group_id, role, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SenderID, rec.GroupID, rec.Role, rec.Content, embedding, rec.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return res.LastInsertId()
}

// GetRecent returns the newest records for a conversation key, newest first.
// The key is a sender id for private chats or a group id for group chats.
func (s *SQLiteStore) GetRecent(ctx context.Context, key string, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_id, group_id, role, content, embedding, created_at
		 FROM records
		 WHERE sender_id = ? OR group_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		key, key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SearchSimilar ranks stored records by cosine similarity against the query
// vector. Records without an embedding are skipped.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, vector []float64, filters domain.SearchFilters, limit int) ([]domain.ScoredRecord, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		limit = 5
	}

	query := `SELECT id, sender_id, group_id, role, content, embedding, created_at
		 FROM records WHERE embedding IS NOT NULL`
	args := []any{}
	if filters.SenderID != "" {
		query += " AND sender_id = ?"
		args = append(args, filters.SenderID)
	}
	if filters.GroupID != "" {
		query += " AND group_id = ?"
		args = append(args, filters.GroupID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, similarityScanCap)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidate records: %w", err)
	}
	defer rows.Close()

	candidates, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	scored := make([]domain.ScoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		if len(rec.Embedding) != len(vector) {
			continue
		}
		scored = append(scored, domain.ScoredRecord{
			Record: rec,
			Score:  cosineSimilarity(vector, rec.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]domain.Record, error) {
	var out []domain.Record
	for rows.Next() {
		var rec domain.Record
		var embedding sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SenderID, &rec.GroupID, &rec.Role,
			&rec.Content, &embedding, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &rec.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding for record %d: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func cosineSimilarity(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
