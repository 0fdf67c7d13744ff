package feedback

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildStateBackendFromDSNMemory(t *testing.T) {
	backend, err := BuildStateBackendFromDSN("memory://")
	if err != nil {
		t.Fatalf("build state backend failed: %v", err)
	}
	if backend == nil {
		t.Fatalf("expected non-nil memory state backend")
	}
	if err := backend.Save(&Snapshot{InProgressRequestID: intPtr(3)}); err != nil {
		t.Fatalf("memory backend save failed: %v", err)
	}
	snapshot, err := backend.Load()
	if err != nil {
		t.Fatalf("memory backend load failed: %v", err)
	}
	if snapshot == nil || snapshot.InProgressRequestID == nil || *snapshot.InProgressRequestID != 3 {
		t.Fatalf("expected in-progress request 3, got %+v", snapshot)
	}
}

func TestBuildStateBackendFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "store.json")
	backend, err := BuildStateBackendFromDSN("file://" + path)
	if err != nil {
		t.Fatalf("build file state backend failed: %v", err)
	}
	if backend == nil {
		t.Fatalf("expected non-nil file state backend")
	}

	snapshot, err := backend.Load()
	if err != nil {
		t.Fatalf("load before save failed: %v", err)
	}
	if snapshot != nil {
		t.Fatalf("expected nil snapshot before first save, got %+v", snapshot)
	}

	store := NewStore()
	store.UpsertEssay(Essay{PK: 7, Name: "Persisted"})
	if err := backend.Save(store.Snapshot()); err != nil {
		t.Fatalf("file backend save failed: %v", err)
	}
	snapshot, err = backend.Load()
	if err != nil {
		t.Fatalf("file backend load failed: %v", err)
	}
	restored := NewStore()
	restored.Restore(snapshot)
	if essay, ok := restored.Essay(7); !ok || essay.Name != "Persisted" {
		t.Fatalf("expected essay 7 after reload, got %+v ok=%v", essay, ok)
	}
}

func TestBuildStateBackendFromDSNBarePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	backend, err := BuildStateBackendFromDSN(path)
	if err != nil {
		t.Fatalf("build bare path backend failed: %v", err)
	}
	fileBackend, ok := backend.(*JSONFileStateBackend)
	if !ok {
		t.Fatalf("expected *JSONFileStateBackend, got %T", backend)
	}
	if fileBackend.Path != path {
		t.Fatalf("expected path %s, got %s", path, fileBackend.Path)
	}
}

func TestBuildStateBackendFromDSNSchemes(t *testing.T) {
	backend, err := BuildStateBackendFromDSN("")
	if err != nil || backend != nil {
		t.Fatalf("expected no backend for empty dsn, got %v %v", backend, err)
	}

	backend, err = BuildStateBackendFromDSN("postgres://localhost/feedbackdesk?sslmode=disable")
	if err != nil {
		t.Fatalf("expected postgres state backend to be available, got %v", err)
	}
	if _, ok := backend.(*PostgresStateBackend); !ok {
		t.Fatalf("expected *PostgresStateBackend, got %T", backend)
	}

	backend, err = BuildStateBackendFromDSN("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("expected redis state backend to be available, got %v", err)
	}
	if _, ok := backend.(*RedisStateBackend); !ok {
		t.Fatalf("expected *RedisStateBackend, got %T", backend)
	}
	_ = CloseStateBackend(backend)

	for _, dsn := range []string{"mysql://localhost/feedbackdesk", "sqlite:///tmp/state.db", "ftp://example"} {
		if _, err := BuildStateBackendFromDSN(dsn); err == nil || !strings.Contains(err.Error(), "unsupported state backend scheme") {
			t.Fatalf("expected unsupported scheme error for %s, got %v", dsn, err)
		}
	}
}

func TestBuildStateBackendKeepsRelativeFilePaths(t *testing.T) {
	cases := map[string]string{
		"state/state.json":            "state/state.json",
		"file://state/state.json":     "state/state.json",
		"file:///var/lib/state.json":  "/var/lib/state.json",
		"file://localhost/state.json": "/state.json",
	}
	for dsn, want := range cases {
		backend, err := BuildStateBackendFromDSN(dsn)
		if err != nil {
			t.Fatalf("build %s: %v", dsn, err)
		}
		file, ok := backend.(*JSONFileStateBackend)
		if !ok {
			t.Fatalf("expected *JSONFileStateBackend for %s, got %T", dsn, backend)
		}
		if file.Path != want {
			t.Fatalf("expected path %q for %s, got %q", want, dsn, file.Path)
		}
	}
}

func TestInMemoryStateBackendReturnsClones(t *testing.T) {
	backend := NewInMemoryStateBackend()
	saved := &Snapshot{Essays: []Essay{{PK: 1, Name: "original"}}}
	if err := backend.Save(saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	saved.Essays[0].Name = "mutated"
	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Essays[0].Name != "original" {
		t.Fatalf("expected backend to hold its own copy, got %q", loaded.Essays[0].Name)
	}
}
