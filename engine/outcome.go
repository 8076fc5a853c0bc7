package engine

import (
	"time"

	"github.com/franksops/assetdock/manifest"
)

// Outcome is the final result of one descriptor. It is built once the
// fallback chain ends and is not modified afterwards.
type Outcome struct {
	Manifest   string
	Descriptor manifest.Descriptor
	TargetDir  string

	// Filename and Path are empty when the asset failed before a name was known.
	Filename string
	Path     string

	Bytes     int64
	Checksum  uint64
	Skipped   bool
	Succeeded bool

	// Attempts counts auth-level attempts; Retries counts transient
	// retries inside those attempts.
	Attempts int
	Retries  int

	Err      error
	Duration time.Duration
}

// Tally aggregates outcomes.
type Tally struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Bytes     int64
}

// Add counts o. Skipped outcomes count as both succeeded and skipped.
func (t *Tally) Add(o Outcome) {
	t.Total++
	if !o.Succeeded {
		t.Failed++
		return
	}
	t.Succeeded++
	if o.Skipped {
		t.Skipped++
	}
	t.Bytes += o.Bytes
}

// Merge adds other into t.
func (t *Tally) Merge(other Tally) {
	t.Total += other.Total
	t.Succeeded += other.Succeeded
	t.Skipped += other.Skipped
	t.Failed += other.Failed
	t.Bytes += other.Bytes
}

// ManifestSummary holds the outcomes of a single manifest.
type ManifestSummary struct {
	Name      string
	TargetDir string
	Tally
	Outcomes []Outcome
}

// Summary is the result of a batch run.
type Summary struct {
	Tally
	Manifests []ManifestSummary
}

// Failures returns every failed outcome in manifest order.
func (s Summary) Failures() []Outcome {
	var failed []Outcome
	for _, m := range s.Manifests {
		for _, o := range m.Outcomes {
			if !o.Succeeded {
				failed = append(failed, o)
			}
		}
	}
	return failed
}
