package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franksops/assetdock/manifest"
)

// Fetcher acquires a single asset. It never panics on remote failures; the
// returned Outcome carries the error. progress receives every byte written
// and may also implement SetTotal(int64).
type Fetcher interface {
	Fetch(ctx context.Context, job TransferJob, progress io.Writer) Outcome
}

// RunnerOptions configures a BatchRunner.
type RunnerOptions struct {
	// Concurrency bounds parallel transfers. 1 runs descriptors one at a time.
	Concurrency int

	// Verify re-hashes files that a previous run recorded before trusting them.
	Verify bool

	// Tracker persists outcomes. Without one every run goes to the network
	// for files the executor cannot name in advance.
	Tracker *JobTracker

	Observer Observer
	Buffers  *BufferPool
	Logger   *zap.Logger
}

// BatchRunner drives manifests through a worker pool. A batch never fails as
// a whole; callers inspect the Summary.
type BatchRunner struct {
	fetcher     Fetcher
	fs          Filesystem
	concurrency int
	verify      bool
	tracker     *JobTracker
	observer    Observer
	buffers     *BufferPool
	logger      *zap.Logger
	runID       string
}

// NewBatchRunner creates a runner that fetches with fetcher and creates
// directories through fs.
func NewBatchRunner(fetcher Fetcher, fs Filesystem, opts RunnerOptions) *BatchRunner {
	r := &BatchRunner{
		fetcher:     fetcher,
		fs:          fs,
		concurrency: opts.Concurrency,
		verify:      opts.Verify,
		tracker:     opts.Tracker,
		observer:    opts.Observer,
		buffers:     opts.Buffers,
		logger:      opts.Logger,
		runID:       uuid.NewString(),
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	if r.observer == nil {
		r.observer = Observers{}
	}
	if r.buffers == nil {
		r.buffers = NewBufferPool(0)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// RunID identifies this runner's jobs in the store.
func (r *BatchRunner) RunID() string {
	return r.runID
}

// RunManifest runs a single manifest. An empty manifest returns at once
// without touching the filesystem.
func (r *BatchRunner) RunManifest(ctx context.Context, m manifest.Manifest) ManifestSummary {
	if m.Empty() {
		return ManifestSummary{Name: m.Name, TargetDir: m.TargetDir}
	}
	return r.Run(ctx, manifest.Set{m}).Manifests[0]
}

// Run processes every manifest in set concurrently up to the configured
// limit. Jobs that never started because ctx ended are reported as failed.
func (r *BatchRunner) Run(ctx context.Context, set manifest.Set) Summary {
	groups := Plan(r.runID, set)

	var jobs []TransferJob
	for _, g := range groups {
		jobs = append(jobs, g...)
	}

	// Each slot is written by exactly one goroutine and read after the pool drains.
	outcomes := make([]*Outcome, len(jobs))

	if len(jobs) > 0 {
		r.logger.Info("starting asset batch",
			zap.String("run_id", r.runID),
			zap.Int("manifests", len(set)),
			zap.Int("assets", len(jobs)),
			zap.Int("concurrency", r.concurrency),
		)

		ch := make(JobChannel)
		pool := NewWorkerPool(ctx, ch, func(ctx context.Context, job TransferJob) {
			o := r.process(ctx, job)
			outcomes[job.Seq] = &o
		})
		pool.OnPanic = func(job TransferJob, v any) {
			r.logger.Error("asset handler panicked", zap.String("url", job.Descriptor.Redacted()), zap.Any("panic", v))
			o := r.reject(job, fmt.Errorf("panic: %v", v))
			outcomes[job.Seq] = &o
		}
		pool.SetWorkerCount(r.concurrency)

		walker := NewWalker(r.fs, ch)
		walker.Rejected = func(job TransferJob, err error) {
			o := r.reject(job, err)
			outcomes[job.Seq] = &o
		}
		if err := walker.Walk(ctx, jobs); err != nil {
			r.logger.Warn("stopped scheduling assets", zap.Error(err))
		}
		close(ch)
		pool.Wait()
		pool.Stop()
	}

	var summary Summary
	for i, m := range set {
		ms := ManifestSummary{Name: m.Name, TargetDir: m.TargetDir}
		for _, job := range groups[i] {
			o := outcomes[job.Seq]
			if o == nil {
				o = r.notStarted(ctx, job)
			}
			ms.Add(*o)
			ms.Outcomes = append(ms.Outcomes, *o)
		}
		summary.Merge(ms.Tally)
		summary.Manifests = append(summary.Manifests, ms)
	}

	if len(jobs) > 0 {
		LogSummary(r.logger, summary)
	}
	return summary
}

func (r *BatchRunner) process(ctx context.Context, job TransferJob) Outcome {
	start := time.Now()
	r.observer.AssetStarted(job)

	if o, ok := r.fromStore(ctx, job); ok {
		o.Duration = time.Since(start)
		r.finish(job, o)
		return o
	}

	if r.tracker != nil {
		if err := r.tracker.Begin(job); err != nil {
			r.logger.Warn("failed to record asset start", zap.String("url", job.Descriptor.Redacted()), zap.Error(err))
		}
	}

	o := r.fetcher.Fetch(ctx, job, r.progressWriter(job))
	o.Manifest = job.Manifest
	o.Descriptor = job.Descriptor
	o.TargetDir = job.TargetDir
	o.Duration = time.Since(start)
	r.finish(job, o)
	return o
}

// fromStore reports a previously completed asset as skipped when its file is
// still there, without any network access.
func (r *BatchRunner) fromStore(ctx context.Context, job TransferJob) (Outcome, bool) {
	if r.tracker == nil {
		return Outcome{}, false
	}
	rec, found, err := r.tracker.Lookup(job.ID)
	if err != nil {
		r.logger.Warn("failed to read asset record", zap.String("url", job.Descriptor.Redacted()), zap.Error(err))
		return Outcome{}, false
	}
	if !found || !rec.State.Done() || rec.Filename == "" {
		return Outcome{}, false
	}

	path := filepath.Join(job.TargetDir, rec.Filename)
	if ok, err := r.fs.Exists(ctx, path); err != nil || !ok {
		return Outcome{}, false
	}

	if r.verify {
		size, sum, err := ChecksumFile(path, r.buffers)
		intact := err == nil &&
			(rec.TotalBytes == 0 || size == rec.TotalBytes) &&
			(rec.Checksum == 0 || sum == rec.Checksum)
		if !intact {
			r.logger.Warn("asset on disk does not match its record, fetching again",
				zap.String("path", path),
				zap.Int64("size", size),
				zap.Int64("recorded_size", rec.TotalBytes),
			)
			if err := r.fs.Remove(ctx, path); err != nil {
				r.logger.Warn("failed to remove stale asset", zap.String("path", path), zap.Error(err))
			}
			return Outcome{}, false
		}
	}

	return Outcome{
		Manifest:   job.Manifest,
		Descriptor: job.Descriptor,
		TargetDir:  job.TargetDir,
		Filename:   rec.Filename,
		Path:       path,
		Checksum:   rec.Checksum,
		Skipped:    true,
		Succeeded:  true,
	}, true
}

func (r *BatchRunner) finish(job TransferJob, o Outcome) {
	if r.tracker != nil {
		if err := r.tracker.Finish(job, o); err != nil {
			r.logger.Warn("failed to record asset outcome", zap.String("url", job.Descriptor.Redacted()), zap.Error(err))
		}
	}
	r.observer.AssetFinished(job, o)
}

func (r *BatchRunner) reject(job TransferJob, err error) Outcome {
	o := Outcome{
		Manifest:   job.Manifest,
		Descriptor: job.Descriptor,
		TargetDir:  job.TargetDir,
		Err:        err,
	}
	r.finish(job, o)
	return o
}

func (r *BatchRunner) notStarted(ctx context.Context, job TransferJob) *Outcome {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	o := Outcome{
		Manifest:   job.Manifest,
		Descriptor: job.Descriptor,
		TargetDir:  job.TargetDir,
		Err:        err,
	}
	r.observer.AssetFinished(job, o)
	return &o
}

func (r *BatchRunner) progressWriter(job TransferJob) *progressWriter {
	pw := &progressWriter{job: job, observer: r.observer, total: -1}
	if r.tracker != nil {
		pw.tracked = r.tracker.NewTrackedWriter(io.Discard, job.ID)
	}
	return pw
}

// progressWriter forwards byte counts to observers and checkpoints.
type progressWriter struct {
	job      TransferJob
	observer Observer
	tracked  *TrackedWriter

	written int64
	total   int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if p.tracked != nil {
		p.tracked.Write(b)
	}
	p.written += int64(len(b))
	p.observer.AssetProgress(p.job, p.written, p.total)
	return len(b), nil
}

// SetTotal starts a new attempt with the given expected size.
func (p *progressWriter) SetTotal(n int64) {
	p.written = 0
	p.total = n
	if p.tracked != nil {
		p.tracked.Reset()
	}
	p.observer.AssetProgress(p.job, 0, n)
}
