package engine

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/franksops/assetdock/manifest"
)

// TransferJob is one descriptor scheduled into one target directory.
type TransferJob struct {
	// ID is stable across runs for the same target directory and descriptor,
	// so a later run can find the record an earlier one left behind.
	ID string

	// RunID identifies the provisioning run that scheduled the job.
	RunID string

	// Seq is the job's position in the run, counted across all manifests.
	Seq int

	// Manifest is the name of the manifest the descriptor came from.
	Manifest string

	// TargetDir is the absolute directory the asset lands in.
	TargetDir string

	Descriptor manifest.Descriptor
}

// JobChannel is a channel used to queue and dispatch TransferJobs to workers
// in the worker pool.
type JobChannel chan TransferJob

// JobID derives the persistent key for a descriptor in a target directory.
func JobID(targetDir string, d manifest.Descriptor) string {
	h := sha256.New()
	h.Write([]byte(targetDir))
	h.Write([]byte{0})
	h.Write([]byte(d.URL))
	h.Write([]byte{0})
	h.Write([]byte(d.FilenameOverride))
	return hex.EncodeToString(h.Sum(nil))
}
