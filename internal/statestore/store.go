package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/luminal-ai/genbridge/internal/config"
	"github.com/luminal-ai/genbridge/internal/textgen"
)

// Store persists adapter-state snapshots and a generation audit log in
// SQLite. In ephemeral mode every operation is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.StateStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.StateStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("state store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("state store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS adapter_state (
    kind TEXT NOT NULL,
    model_id TEXT NOT NULL,
    payload BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY(kind, model_id)
);
CREATE TABLE IF NOT EXISTS generations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_id TEXT NOT NULL,
    input TEXT,
    output TEXT,
    finish_reason TEXT,
    tokens INTEGER,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generations_model_created ON generations(model_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveState upserts a serialized state snapshot for (kind, modelID).
func (s *Store) SaveState(ctx context.Context, kind, modelID string, payload []byte) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO adapter_state(kind, model_id, payload, updated_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(kind, model_id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		kind, modelID, payload, s.clock().UTC())
	return err
}

// LoadState fetches the stored snapshot, or nil when none exists.
func (s *Store) LoadState(ctx context.Context, kind, modelID string) ([]byte, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM adapter_state WHERE kind = ? AND model_id = ?`,
		kind, modelID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// RecordGeneration appends a completed generation to the audit log.
// Implements textgen.Recorder.
func (s *Store) RecordGeneration(ctx context.Context, rec textgen.GenerationRecord) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations(model_id, input, output, finish_reason, tokens, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		rec.ModelID, rec.Input, rec.Output, rec.FinishReason, rec.Tokens, rec.CreatedAt)
	return err
}

// ListGenerations retrieves up to limit audit entries for a model,
// ordered ascending by time.
func (s *Store) ListGenerations(ctx context.Context, modelID string, limit int) ([]textgen.GenerationRecord, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, input, output, finish_reason, tokens, created_at
		 FROM generations WHERE model_id = ? ORDER BY created_at ASC LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []textgen.GenerationRecord
	for rows.Next() {
		var rec textgen.GenerationRecord
		var created string
		if err := rows.Scan(&rec.ModelID, &rec.Input, &rec.Output, &rec.FinishReason, &rec.Tokens, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune applies configured retention to the audit log.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM generations WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxGenerations > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM generations WHERE id IN (
			SELECT id FROM generations ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxGenerations)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
