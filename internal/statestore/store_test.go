package statestore

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/luminal-ai/genbridge/internal/config"
	"github.com/luminal-ai/genbridge/internal/textgen"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.StateStoreConfig{RetentionMode: "ephemeral"}
	store, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.SaveState(ctx, "k", "m", []byte("x")); err != nil {
		t.Fatalf("save state: %v", err)
	}
	payload, err := store.LoadState(ctx, "k", "m")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if payload != nil {
		t.Fatalf("ephemeral store must not persist, got %q", payload)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StateStoreConfig{Path: filepath.Join(tmp, "state.db"), RetentionMode: "persistent"}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.SaveState(context.Background(), "adapter", "model-a", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if err := store.SaveState(context.Background(), "adapter", "model-a", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("upsert state: %v", err)
	}

	payload, err := store.LoadState(context.Background(), "adapter", "model-a")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !bytes.Equal(payload, []byte(`{"v":2}`)) {
		t.Fatalf("expected latest snapshot, got %q", payload)
	}

	missing, err := store.LoadState(context.Background(), "adapter", "model-b")
	if err != nil {
		t.Fatalf("load missing state: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for absent snapshot, got %q", missing)
	}
}

func TestRecordAndListGenerations(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StateStoreConfig{Path: filepath.Join(tmp, "state.db"), RetentionMode: "persistent"}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	rec := textgen.GenerationRecord{
		ModelID:      "model-a",
		Input:        "hi",
		Output:       "hello",
		FinishReason: "stop",
		Tokens:       2,
	}
	if err := store.RecordGeneration(context.Background(), rec); err != nil {
		t.Fatalf("record generation: %v", err)
	}

	records, err := store.ListGenerations(context.Background(), "model-a", 10)
	if err != nil {
		t.Fatalf("list generations: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Output != "hello" || records[0].FinishReason != "stop" || records[0].Tokens != 2 {
		t.Fatalf("unexpected record: %+v", records[0])
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StateStoreConfig{
		Path:           filepath.Join(tmp, "state.db"),
		RetentionMode:  "persistent",
		RetentionDays:  1,
		MaxGenerations: 1,
	}
	store, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open state store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	store.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := store.RecordGeneration(context.Background(), textgen.GenerationRecord{ModelID: "m", Output: "old"}); err != nil {
		t.Fatalf("record old generation: %v", err)
	}

	store.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := store.RecordGeneration(context.Background(), textgen.GenerationRecord{ModelID: "m", Output: "new"}); err != nil {
		t.Fatalf("record new generation: %v", err)
	}
	if err := store.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := store.ListGenerations(context.Background(), "m", 10)
	if err != nil {
		t.Fatalf("list generations: %v", err)
	}
	if len(records) != 1 || records[0].Output != "new" {
		t.Fatalf("expected only the newest record, got %+v", records)
	}
}
