package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/franksops/assetdock/manifest"
)

func testSet() manifest.Set {
	return manifest.Set{
		{
			Name:      "checkpoints",
			TargetDir: "/models/ckpt",
			Descriptors: []manifest.Descriptor{
				{URL: "https://hostA/model.safetensors"},
				{URL: "  "},
				{URL: "https://hostB/x", FilenameOverride: "custom.pt"},
			},
		},
		{Name: "vae", TargetDir: "/models/vae"},
		{
			Name:        "lora",
			TargetDir:   "/models/lora",
			Descriptors: []manifest.Descriptor{{URL: "https://hostC/style.safetensors"}},
		},
	}
}

func TestPlan(t *testing.T) {
	groups := Plan("run-1", testSet())

	if len(groups) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Errorf("Expected blank descriptor to be dropped, got %d jobs", len(groups[0]))
	}
	if len(groups[1]) != 0 {
		t.Errorf("Expected empty manifest to plan nothing, got %d jobs", len(groups[1]))
	}

	var seqs []int
	for _, g := range groups {
		for _, job := range g {
			seqs = append(seqs, job.Seq)
			if job.RunID != "run-1" {
				t.Errorf("RunID not propagated: %q", job.RunID)
			}
		}
	}
	for i, s := range seqs {
		if s != i {
			t.Errorf("Expected contiguous sequence numbers, got %v", seqs)
			break
		}
	}

	if groups[0][0].ID == groups[0][1].ID {
		t.Error("distinct descriptors share an ID")
	}
	again := Plan("run-2", testSet())
	if again[0][0].ID != groups[0][0].ID {
		t.Error("job IDs must be stable across runs")
	}
}

func TestWalker_Walk(t *testing.T) {
	fs := newMockFS()
	groups := Plan("run-1", testSet())
	var jobs []TransferJob
	for _, g := range groups {
		jobs = append(jobs, g...)
	}

	jobChan := make(JobChannel, 10)
	walker := NewWalker(fs, jobChan)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := walker.Walk(ctx, jobs); err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	close(jobChan)

	var received []string
	for job := range jobChan {
		received = append(received, job.Descriptor.URL)
	}
	if len(received) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(received))
	}

	dirs := fs.dirs()
	if len(dirs) != 2 || dirs[0] != "/models/ckpt" || dirs[1] != "/models/lora" {
		t.Errorf("Expected each non-empty target dir created once, got %v", dirs)
	}
}

func TestWalker_RejectsWhenDirFails(t *testing.T) {
	fs := newMockFS()
	fs.failDir["/models/ckpt"] = errors.New("read-only filesystem")

	jobs := Plan("run-1", testSet())[0]
	jobChan := make(JobChannel, 10)
	walker := NewWalker(fs, jobChan)

	var rejected []TransferJob
	walker.Rejected = func(job TransferJob, err error) {
		rejected = append(rejected, job)
	}

	if err := walker.Walk(context.Background(), jobs); err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(rejected) != 2 {
		t.Errorf("Expected 2 rejected jobs, got %d", len(rejected))
	}
	if len(jobChan) != 0 {
		t.Errorf("Expected nothing enqueued, got %d", len(jobChan))
	}
}

func TestWalker_StopsOnCancel(t *testing.T) {
	fs := newMockFS()
	jobs := Plan("run-1", testSet())[0]

	// Unbuffered and never read, so the walker blocks until cancelled.
	jobChan := make(JobChannel)
	walker := NewWalker(fs, jobChan)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- walker.Walk(ctx, jobs)
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("walker did not stop after cancellation")
	}
}
