package store

import (
	"path/filepath"
	"testing"
)

func TestBoltStore_SaveAndGetJob(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	store, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}
	defer store.Close()

	job := &JobRecord{
		ID:        "asset-123",
		Manifest:  "checkpoints",
		URL:       "https://huggingface.co/org/repo/resolve/main/model.safetensors",
		TargetDir: "/models/ckpt",
		State:     StatePending,
	}

	if err := store.SaveJob(job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	retrieved, err := store.GetJob("asset-123")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if retrieved.URL != job.URL {
		t.Errorf("Expected URL %s, got %s", job.URL, retrieved.URL)
	}
	if retrieved.State != StatePending {
		t.Errorf("Expected state %s, got %s", StatePending, retrieved.State)
	}

	job.State = StateCompleted
	job.Filename = "model.safetensors"
	job.BytesTransferred = 512
	job.Checksum = 0xdeadbeef
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("Failed to update job: %v", err)
	}

	retrieved, err = store.GetJob("asset-123")
	if err != nil {
		t.Fatalf("Failed to get updated job: %v", err)
	}
	if !retrieved.State.Done() {
		t.Errorf("Expected done state, got %s", retrieved.State)
	}
	if retrieved.Filename != "model.safetensors" || retrieved.BytesTransferred != 512 || retrieved.Checksum != 0xdeadbeef {
		t.Errorf("Unexpected record after update: %+v", retrieved)
	}

	_, err = store.GetJob("non-existent")
	if err != ErrJobNotFound {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestBoltStore_ListJobs(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "list.db"))
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"b", "a", "c"} {
		if err := store.SaveJob(&JobRecord{ID: id, State: StateFailed}); err != nil {
			t.Fatalf("Failed to save %s: %v", id, err)
		}
	}

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "a" || jobs[2].ID != "c" {
		t.Errorf("Expected jobs ordered by ID, got %s..%s", jobs[0].ID, jobs[2].ID)
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	store, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}
	if err := store.SaveJob(&JobRecord{ID: "kept", State: StateCompleted}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	store.Close()

	store, err = NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen BoltStore: %v", err)
	}
	defer store.Close()

	job, err := store.GetJob("kept")
	if err != nil {
		t.Fatalf("Record lost across reopen: %v", err)
	}
	if job.State != StateCompleted {
		t.Errorf("Expected %s, got %s", StateCompleted, job.State)
	}
}

func TestBoltStore_Close(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test_close.db")

	store, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}

	err = store.Close()
	if err != nil {
		t.Errorf("Failed to close BoltStore: %v", err)
	}

	_, err = store.GetJob("asset-123")
	if err == nil {
		t.Error("Expected error when accessing closed store, got nil")
	}
}
