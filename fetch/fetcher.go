package fetch

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/franksops/assetdock/engine"
)

// Fetcher ties classification, resolution and the fallback chain together
// for the batch runner.
type Fetcher struct {
	resolver *Resolver
	transfer TransferFunc
	hosts    Hosts
	creds    Credentials
	logger   *zap.Logger
}

var _ engine.Fetcher = (*Fetcher)(nil)

// NewFetcher creates a Fetcher. transfer is usually Executor.Transfer.
func NewFetcher(resolver *Resolver, transfer TransferFunc, hosts Hosts, creds Credentials, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		resolver: resolver,
		transfer: transfer,
		hosts:    hosts,
		creds:    creds,
		logger:   logger,
	}
}

// Fetch acquires one asset into job.TargetDir.
func (f *Fetcher) Fetch(ctx context.Context, job engine.TransferJob, progress io.Writer) engine.Outcome {
	d := job.Descriptor
	kind := Classify(d.URL, f.hosts)

	filename := d.FilenameOverride
	if filename == "" && kind == KindMarketplace {
		filename = f.resolver.Resolve(ctx, d)
	}

	log := f.logger.With(
		zap.String("url", d.Redacted()),
		zap.Stringer("kind", kind),
	)
	var prev *Request
	transfer := func(ctx context.Context, req Request) (Result, error) {
		switch {
		case prev == nil:
		case prev.Token != "":
			log.Warn("authenticated attempt failed, retrying without auth")
		default:
			log.Warn("attempt failed, retrying")
		}
		prev = &req
		return f.transfer(ctx, req)
	}

	out := RunWithFallback(ctx, kind, f.creds, Request{
		URL:       d.URL,
		TargetDir: job.TargetDir,
		Filename:  filename,
		Tee:       progress,
	}, transfer)
	out.Manifest = job.Manifest
	out.Descriptor = d
	return out
}
