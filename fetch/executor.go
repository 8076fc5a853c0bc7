package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/franksops/assetdock/engine"
	"github.com/franksops/assetdock/manifest"
	"github.com/franksops/assetdock/provider"
)

// Request is one transfer attempt.
type Request struct {
	URL       string
	TargetDir string
	// Filename forces the on-disk name. When empty the response decides.
	Filename string
	// Token is sent as a bearer token when non-empty.
	Token string
	// Tee sees every byte written. If it has SetTotal(int64), that is
	// called with the expected size before each try.
	Tee io.Writer
}

// Result describes a finished transfer.
type Result struct {
	Filename string
	Path     string
	Bytes    int64
	Checksum uint64
	// Skipped means the destination already existed and was left alone.
	Skipped bool
	// Retries counts transient failures that were retried.
	Retries int
}

// TransferFunc performs one attempt. Executor.Transfer is the production one.
type TransferFunc func(ctx context.Context, req Request) (Result, error)

// SourceOpener returns a reader for an object-store bucket.
type SourceOpener func(ctx context.Context, bucket string) (provider.Source, error)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Client    *http.Client
	Local     *provider.LocalProvider
	Buffers   *engine.BufferPool
	UserAgent string

	// Retries bounds transient retries per Transfer call.
	Retries int
	// RetryInterval is the first backoff delay.
	RetryInterval time.Duration
	// Timeout caps a single try; StallTimeout aborts a try that receives
	// no bytes for that long. Zero disables either.
	Timeout      time.Duration
	StallTimeout time.Duration
	// MaxBytesPerSec caps total throughput across all transfers.
	MaxBytesPerSec int64

	// S3 opens object-store sources. Nil disables s3:// URLs.
	S3 SourceOpener

	Logger *zap.Logger
}

// Executor moves bytes from a URL into a target directory.
type Executor struct {
	client        *http.Client
	local         *provider.LocalProvider
	buffers       *engine.BufferPool
	userAgent     string
	retries       int
	retryInterval time.Duration
	timeout       time.Duration
	stallTimeout  time.Duration
	limiter       *rate.Limiter
	s3            SourceOpener
	logger        *zap.Logger
}

// NewExecutor creates an Executor. Nil fields get working defaults.
func NewExecutor(opts ExecutorOptions) *Executor {
	e := &Executor{
		client:        opts.Client,
		local:         opts.Local,
		buffers:       opts.Buffers,
		userAgent:     opts.UserAgent,
		retries:       opts.Retries,
		retryInterval: opts.RetryInterval,
		timeout:       opts.Timeout,
		stallTimeout:  opts.StallTimeout,
		s3:            opts.S3,
		logger:        opts.Logger,
	}
	if e.client == nil {
		e.client = http.DefaultClient
	}
	if e.local == nil {
		e.local = provider.NewLocalProvider("")
	}
	if e.buffers == nil {
		e.buffers = engine.NewBufferPool(0)
	}
	if e.retries < 0 {
		e.retries = 0
	}
	if e.retryInterval <= 0 {
		e.retryInterval = time.Second
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if opts.MaxBytesPerSec > 0 {
		burst := e.buffers.Size()
		if int64(burst) > opts.MaxBytesPerSec {
			burst = int(opts.MaxBytesPerSec)
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.MaxBytesPerSec), burst)
	}
	return e
}

// Transfer fetches req.URL into req.TargetDir. An existing destination is
// never overwritten and counts as success with Skipped set.
func (e *Executor) Transfer(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.TargetDir) == "" {
		return Result{}, fmt.Errorf("%w: url=%q dir=%q", ErrInvalidRequest, req.URL, req.TargetDir)
	}

	if req.Filename != "" {
		if res, ok, err := e.existing(ctx, req.TargetDir, req.Filename); err != nil || ok {
			return res, err
		}
	}

	log := e.logger.With(zap.String("url", manifest.RedactURL(req.URL)))
	retries := 0
	var res Result

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		r, err := e.attempt(ctx, req)
		if err == nil {
			res = r
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		retries++
		log.Warn("transfer failed, retrying",
			zap.Error(err),
			zap.Int("retry", retries),
			zap.Duration("backoff", wait),
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.retries)), ctx), notify)
	res.Retries = retries
	return res, err
}

func (e *Executor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInterval
	b.MaxInterval = 30 * e.retryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (e *Executor) existing(ctx context.Context, dir, name string) (Result, bool, error) {
	dest := filepath.Join(dir, name)
	ok, err := e.local.Exists(ctx, dest)
	if err != nil {
		return Result{}, false, err
	}
	if !ok {
		return Result{}, false, nil
	}
	return Result{Filename: name, Path: dest, Skipped: true}, true, nil
}

// attempt is a single try with its own timeout and stall watchdog.
func (e *Executor) attempt(ctx context.Context, req Request) (Result, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.timeout > 0 {
		var tcancel context.CancelFunc
		actx, tcancel = context.WithTimeout(actx, e.timeout)
		defer tcancel()
	}

	if strings.HasPrefix(strings.ToLower(req.URL), "s3://") {
		return e.attemptObject(actx, cancel, req)
	}
	return e.attemptHTTP(actx, cancel, req)
}

func (e *Executor) attemptHTTP(ctx context.Context, cancel context.CancelFunc, req Request) (Result, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if e.userAgent != "" {
		hreq.Header.Set("User-Agent", e.userAgent)
	}
	if req.Token != "" {
		hreq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := e.client.Do(hreq)
	if err != nil {
		return Result{}, redactError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &StatusError{Code: resp.StatusCode, URL: req.URL}
	}

	name := req.Filename
	if name == "" {
		name = FilenameFromDisposition(resp.Header.Get("Content-Disposition"))
	}
	if name == "" {
		name = BasenameFromURL(resp.Request.URL.String())
	}
	if name == "" {
		name = BasenameFromURL(req.URL)
	}
	if name == "" {
		name = fallbackName
	}

	// The body is dropped unread if the file is already there.
	if res, ok, err := e.existing(ctx, req.TargetDir, name); err != nil || ok {
		return res, err
	}
	return e.write(ctx, cancel, resp.Body, resp.ContentLength, req, name)
}

func (e *Executor) attemptObject(ctx context.Context, cancel context.CancelFunc, req Request) (Result, error) {
	if e.s3 == nil {
		return Result{}, fmt.Errorf("%w: object store sources are not configured", ErrInvalidRequest)
	}
	bucket, key, err := provider.ParseS3URL(req.URL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	name := req.Filename
	if name == "" {
		name = cleanFilename(key)
	}
	if res, ok, err := e.existing(ctx, req.TargetDir, name); err != nil || ok {
		return res, err
	}

	src, err := e.s3(ctx, bucket)
	if err != nil {
		return Result{}, err
	}
	size := int64(-1)
	if info, err := src.Stat(ctx, key); err == nil {
		size = info.Size()
	}
	body, err := src.OpenRead(ctx, key)
	if err != nil {
		return Result{}, err
	}
	defer body.Close()

	return e.write(ctx, cancel, body, size, req, name)
}

// write streams body into an atomic writer under dir/name.
func (e *Executor) write(ctx context.Context, cancel context.CancelFunc, body io.Reader, size int64, req Request, name string) (Result, error) {
	if s, ok := req.Tee.(interface{ SetTotal(int64) }); ok {
		s.SetTotal(size)
	}

	dest := filepath.Join(req.TargetDir, name)
	w, err := e.local.OpenWrite(ctx, dest)
	if err != nil {
		return Result{}, err
	}

	cw := engine.NewChecksumWriter(w)
	var dst io.Writer = cw
	if req.Tee != nil {
		dst = io.MultiWriter(cw, req.Tee)
	}

	src := body
	var stall *stallReader
	if e.stallTimeout > 0 {
		stall = newStallReader(src, e.stallTimeout, cancel)
		defer stall.stop()
		src = stall
	}
	if e.limiter != nil {
		src = &limitedReader{ctx: ctx, r: src, limiter: e.limiter}
	}

	buf := e.buffers.Get()
	defer e.buffers.Put(buf)

	if _, err := io.CopyBuffer(dst, src, *buf); err != nil {
		w.Abort()
		if stall != nil && stall.stalled.Load() {
			return Result{}, fmt.Errorf("%w after %s", errStalled, e.stallTimeout)
		}
		return Result{}, err
	}
	if size >= 0 && cw.BytesWritten() != size {
		w.Abort()
		return Result{}, fmt.Errorf("short body: got %d of %d bytes", cw.BytesWritten(), size)
	}

	if err := w.Close(); err != nil {
		if provider.IsExists(err) {
			// Another writer published the same name first.
			return Result{Filename: name, Path: dest, Skipped: true}, nil
		}
		return Result{}, err
	}

	return Result{
		Filename: name,
		Path:     dest,
		Bytes:    cw.BytesWritten(),
		Checksum: cw.Checksum(),
	}, nil
}

// stallReader cancels the attempt when Read makes no progress for d.
type stallReader struct {
	r       io.Reader
	d       time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

func newStallReader(r io.Reader, d time.Duration, cancel context.CancelFunc) *stallReader {
	s := &stallReader{r: r, d: d}
	s.timer = time.AfterFunc(d, func() {
		s.stalled.Store(true)
		cancel()
	})
	return s
}

func (s *stallReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.timer.Reset(s.d)
	}
	return n, err
}

func (s *stallReader) stop() {
	s.timer.Stop()
}

// limitedReader shares one token bucket across all transfers.
type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}
