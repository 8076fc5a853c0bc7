package engine

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/franksops/assetdock/store"
)

// CheckpointConfig defines the criteria for when to save a job's state
type CheckpointConfig struct {
	// BytesInterval triggers a save after this many bytes have been transferred
	BytesInterval int64
	// TimeInterval triggers a save after this much time has passed
	TimeInterval time.Duration
}

// DefaultCheckpointConfig provides reasonable defaults for checkpointing
var DefaultCheckpointConfig = CheckpointConfig{
	BytesInterval: 64 * 1024 * 1024, // 64 MB
	TimeInterval:  5 * time.Second,
}

// JobTracker records asset state in a store so later runs can skip work.
type JobTracker struct {
	store  store.Store
	config CheckpointConfig
	now    func() time.Time
}

// NewJobTracker creates a new JobTracker
func NewJobTracker(store store.Store, config CheckpointConfig) *JobTracker {
	return &JobTracker{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// Lookup returns the stored record for jobID, if any.
func (jt *JobTracker) Lookup(jobID string) (*store.JobRecord, bool, error) {
	record, err := jt.store.GetJob(jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// Begin marks a job in progress. The attempt counter carries over from
// earlier runs.
func (jt *JobTracker) Begin(job TransferJob) error {
	record, found, err := jt.Lookup(job.ID)
	if err != nil {
		return err
	}
	if !found {
		record = &store.JobRecord{ID: job.ID}
	}
	record.RunID = job.RunID
	record.Manifest = job.Manifest
	record.URL = job.Descriptor.URL
	record.FilenameOverride = job.Descriptor.FilenameOverride
	record.TargetDir = job.TargetDir
	record.State = store.StateInProgress
	record.BytesTransferred = 0
	record.Error = ""
	record.UpdatedAt = jt.now()
	return jt.store.SaveJob(record)
}

// Finish stores the final outcome of a job.
func (jt *JobTracker) Finish(job TransferJob, o Outcome) error {
	record, found, err := jt.Lookup(job.ID)
	if err != nil {
		return err
	}
	if !found {
		record = &store.JobRecord{
			ID:               job.ID,
			RunID:            job.RunID,
			Manifest:         job.Manifest,
			URL:              job.Descriptor.URL,
			FilenameOverride: job.Descriptor.FilenameOverride,
			TargetDir:        job.TargetDir,
		}
	}

	record.RunID = job.RunID
	record.Attempts += o.Attempts
	record.UpdatedAt = jt.now()
	switch {
	case !o.Succeeded:
		record.State = store.StateFailed
		if o.Err != nil {
			record.Error = o.Err.Error()
		}
		return jt.store.SaveJob(record)
	case o.Skipped:
		record.State = store.StateSkipped
	default:
		record.State = store.StateCompleted
	}
	record.Error = ""
	record.Filename = o.Filename
	if !o.Skipped || o.Checksum != 0 {
		record.BytesTransferred = o.Bytes
		record.TotalBytes = o.Bytes
		record.Checksum = o.Checksum
	}
	return jt.store.SaveJob(record)
}

// TrackedWriter counts bytes on their way to the destination file and
// writes the running total to the job record every BytesInterval bytes or
// TimeInterval, whichever comes first. Checkpoints are best effort.
type TrackedWriter struct {
	io.Writer
	tracker *JobTracker
	jobID   string

	mu      sync.Mutex
	written int64
	savedAt int64
	savedT  time.Time
}

func (jt *JobTracker) NewTrackedWriter(w io.Writer, jobID string) *TrackedWriter {
	return &TrackedWriter{Writer: w, tracker: jt, jobID: jobID, savedT: jt.now()}
}

func (tw *TrackedWriter) Write(p []byte) (int, error) {
	n, err := tw.Writer.Write(p)
	if n == 0 {
		return n, err
	}

	tw.mu.Lock()
	tw.written += int64(n)
	total, due := tw.written, tw.due()
	if due {
		tw.savedAt, tw.savedT = total, tw.tracker.now()
	}
	tw.mu.Unlock()

	if due {
		tw.save(total)
	}
	return n, err
}

// due reports whether a checkpoint is owed. Callers hold mu.
func (tw *TrackedWriter) due() bool {
	cfg := tw.tracker.config
	return tw.written-tw.savedAt >= cfg.BytesInterval ||
		tw.tracker.now().Sub(tw.savedT) >= cfg.TimeInterval
}

func (tw *TrackedWriter) save(total int64) {
	record, err := tw.tracker.store.GetJob(tw.jobID)
	if err != nil {
		return
	}
	record.BytesTransferred = total
	record.UpdatedAt = tw.tracker.now()
	_ = tw.tracker.store.SaveJob(record)
}

// Reset starts counting from zero again, for a fresh attempt.
func (tw *TrackedWriter) Reset() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.written, tw.savedAt = 0, 0
}

func (tw *TrackedWriter) BytesWritten() int64 {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.written
}
