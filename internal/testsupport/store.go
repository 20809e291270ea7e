package testsupport

import (
	"context"
	"testing"

	"distill/internal/config"
	"distill/internal/store"
	"distill/internal/task"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewTask creates a fresh pending task for tests using the provided store.
func NewTask(t testing.TB, st *store.Store, sourceRef, modelName string) *task.Task {
	t.Helper()

	created, err := st.CreateOrResetStage1(context.Background(), sourceRef, modelName)
	if err != nil {
		t.Fatalf("store.CreateOrResetStage1: %v", err)
	}
	return created
}
