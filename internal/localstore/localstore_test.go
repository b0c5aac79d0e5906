package localstore

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := New(":memory:", logger)
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	value, err := store.Get(ctx, KeyPlayer)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != nil {
		t.Errorf("value = %q, want nil for missing key", value)
	}
}

func TestSetGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blob := []byte(`{"name":"Ana","team":"blue","score":0}`)
	if err := store.Set(ctx, KeyPlayer, blob); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.Get(ctx, KeyPlayer)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Errorf("get = %q, want %q", got, blob)
	}

	if err := store.Delete(ctx, KeyPlayer); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = store.Get(ctx, KeyPlayer)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Errorf("value after delete = %q, want nil", got)
	}
}

func TestSetOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, KeyResults, []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, KeyResults, []byte(`[{"points":1}]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := store.Get(ctx, KeyResults)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `[{"points":1}]` {
		t.Errorf("get = %q", got)
	}
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.Delete(context.Background(), KeyGameStarted); err != nil {
		t.Fatalf("delete missing key: %v", err)
	}
}
