package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

type localFileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (l *localFileInfo) Name() string       { return l.name }
func (l *localFileInfo) Size() int64        { return l.size }
func (l *localFileInfo) IsDir() bool        { return l.isDir }
func (l *localFileInfo) ModTime() time.Time { return l.modTime }

// uid/gid/mode methods for basic localFileInfo so it trivially satisfies UnixFileInfo if needed,
// but usually we'll return a unixFileInfo.
func (l *localFileInfo) UID() uint32       { return 0 }
func (l *localFileInfo) GID() uint32       { return 0 }
func (l *localFileInfo) Mode() os.FileMode { return 0 }

// LocalProvider implements the Provider interface for posix-compliant local filesystems.
type LocalProvider struct {
	basePath string
	fileMode os.FileMode
	dirMode  os.FileMode
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a new LocalProvider rooted at basePath.
// If basePath is empty, it acts upon absolute or relative paths directly.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{
		basePath: basePath,
		fileMode: 0644,
		dirMode:  0755,
	}
}

func (p *LocalProvider) resolve(path string) string {
	if p.basePath == "" {
		return path
	}
	return filepath.Join(p.basePath, filepath.Clean(path))
}

func (p *LocalProvider) Stat(ctx context.Context, path string) (FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	info, err := os.Stat(p.resolve(path))
	if err != nil {
		return nil, err
	}
	return WrapOSFileInfo(info), nil
}

// Exists reports whether path is present. Errors other than not-exist are
// returned so callers do not mistake an unreadable file for a missing one.
func (p *LocalProvider) Exists(ctx context.Context, path string) (bool, error) {
	_, err := p.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (p *LocalProvider) List(ctx context.Context, path string) ([]FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(p.resolve(path))
	if err != nil {
		return nil, err
	}

	var infos []FileInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue // skip files that disappeared between ReadDir and Info
		}
		infos = append(infos, WrapOSFileInfo(info))
	}
	return infos, nil
}

func (p *LocalProvider) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return os.Open(p.resolve(path))
}

// MkdirAll creates dir and its parents. Existing directories are fine.
func (p *LocalProvider) MkdirAll(ctx context.Context, dir string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return os.MkdirAll(p.resolve(dir), p.dirMode)
}

// Remove deletes a single file.
func (p *LocalProvider) Remove(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return os.Remove(p.resolve(path))
}

// OpenWrite stages writes in a hidden temp file next to path. Close
// publishes it without ever replacing an existing file; a partial
// transfer therefore never shows up under the final name.
func (p *LocalProvider) OpenWrite(ctx context.Context, path string) (AtomicWriter, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath := p.resolve(path)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, p.dirMode); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".*.part")
	if err != nil {
		return nil, err
	}

	return &localWriteCloser{
		File:     file,
		fullPath: fullPath,
		mode:     p.fileMode,
	}, nil
}

// localWriteCloser wraps the staging file and publishes it on Close.
type localWriteCloser struct {
	*os.File
	fullPath string
	mode     os.FileMode
	done     bool
}

func (l *localWriteCloser) Close() error {
	if l.done {
		return nil
	}
	l.done = true
	tmpPath := l.File.Name()

	if err := l.File.Sync(); err != nil {
		l.File.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := l.File.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, l.mode); err != nil {
		os.Remove(tmpPath)
		return err
	}

	err := publish(tmpPath, l.fullPath)
	os.Remove(tmpPath)
	return err
}

func (l *localWriteCloser) Abort() error {
	if l.done {
		return nil
	}
	l.done = true
	l.File.Close()
	return os.Remove(l.File.Name())
}

// publish hard-links tmp to dst, which fails if dst exists. Filesystems
// without hard links fall back to a checked rename.
func publish(tmp, dst string) error {
	err := os.Link(tmp, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s: %w", dst, ErrExists)
	}

	if _, statErr := os.Lstat(dst); statErr == nil {
		return fmt.Errorf("%s: %w", dst, ErrExists)
	}
	if renameErr := os.Rename(tmp, dst); renameErr != nil {
		return fmt.Errorf("failed to publish %s: %w", dst, errors.Join(err, renameErr))
	}
	return nil
}
