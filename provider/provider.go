package provider

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"
)

// ErrExists is returned by a commit when the destination already holds a
// file. The existing file is never replaced.
var ErrExists = fs.ErrExist

// IsExists reports whether err means the destination was already present.
func IsExists(err error) bool {
	return errors.Is(err, ErrExists)
}

// FileInfo represents the standard metadata for a file or a directory
// across different storage abstractions.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}

// Source is a read-only storage backend assets can be pulled from.
type Source interface {
	// Stat returns the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)
}

// Provider is a writable storage backend that assets are provisioned into.
type Provider interface {
	Source

	// List returns the contents of the given directory.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// OpenWrite opens an atomic writer for path. Nothing is visible at path
	// until Close succeeds.
	OpenWrite(ctx context.Context, path string) (AtomicWriter, error)
}

// AtomicWriter stages bytes and publishes them on Close. Abort discards the
// staged bytes; calling Abort after a successful Close is a no-op.
type AtomicWriter interface {
	io.WriteCloser
	Abort() error
}
