package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/franksops/assetdock/manifest"
)

// Filesystem is the slice of the local provider the engine needs.
type Filesystem interface {
	MkdirAll(ctx context.Context, dir string) error
	Exists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
}

// Plan turns a manifest set into jobs, one group per manifest in set order.
// Blank descriptors are dropped; an empty manifest yields an empty group.
func Plan(runID string, set manifest.Set) [][]TransferJob {
	groups := make([][]TransferJob, len(set))
	seq := 0
	for i, m := range set {
		for _, d := range m.Descriptors {
			if strings.TrimSpace(d.URL) == "" {
				continue
			}
			groups[i] = append(groups[i], TransferJob{
				ID:         JobID(m.TargetDir, d),
				RunID:      runID,
				Seq:        seq,
				Manifest:   m.Name,
				TargetDir:  m.TargetDir,
				Descriptor: d,
			})
			seq++
		}
	}
	return groups
}

// Walker feeds planned jobs to the worker pool, creating each target
// directory before the first job that needs it.
type Walker struct {
	Dirs    Filesystem
	JobChan JobChannel

	// Rejected is called for jobs whose target directory could not be
	// created. They are not enqueued.
	Rejected func(job TransferJob, err error)
}

// NewWalker creates a Walker that enqueues onto jobChan.
func NewWalker(dirs Filesystem, jobChan JobChannel) *Walker {
	return &Walker{
		Dirs:    dirs,
		JobChan: jobChan,
	}
}

// Walk enqueues jobs in order. It stops at the first cancellation and
// returns the context error; jobs after that point are never sent.
func (w *Walker) Walk(ctx context.Context, jobs []TransferJob) error {
	made := make(map[string]error)

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dirErr, seen := made[job.TargetDir]
		if !seen {
			if err := w.Dirs.MkdirAll(ctx, job.TargetDir); err != nil {
				dirErr = fmt.Errorf("failed to create %s: %w", job.TargetDir, err)
			}
			made[job.TargetDir] = dirErr
		}
		if dirErr != nil {
			if w.Rejected != nil {
				w.Rejected(job, dirErr)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case w.JobChan <- job:
		}
	}

	return nil
}
