package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/franksops/assetdock/manifest"
)

// DefaultProbeTimeout bounds each resolution request when no other limit is set.
const DefaultProbeTimeout = 30 * time.Second

// Resolver names marketplace downloads before they are fetched.
type Resolver struct {
	// ProbeTimeout bounds each HEAD request, redirects included. A probe
	// that runs out falls through to the next naming step.
	ProbeTimeout time.Duration

	follow    *http.Client
	noFollow  *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewResolver builds a resolver on top of client. A second client sharing
// client's transport is derived for the non-following probe.
func NewResolver(client *http.Client, userAgent string, logger *zap.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	noFollow := *client
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Resolver{
		ProbeTimeout: DefaultProbeTimeout,
		follow:       client,
		noFollow:     &noFollow,
		userAgent:    userAgent,
		logger:       logger,
	}
}

// Resolve returns the on-disk name for d. It never fails: the override wins,
// then the redirect target, then the raw Location or Content-Disposition of
// the first hop, then basename(url) + ".safetensors".
func (r *Resolver) Resolve(ctx context.Context, d manifest.Descriptor) string {
	if d.HasOverride() {
		return d.FilenameOverride
	}
	log := r.logger.With(zap.String("url", d.Redacted()))

	if resp, err := r.head(ctx, r.follow, d.URL); err != nil {
		log.Debug("redirect probe failed", zap.Error(err))
	} else if resp.Request != nil && resp.Request.URL != nil {
		if name := filenameFromEncoded(resp.Request.URL.String()); name != "" {
			log.Debug("resolved filename from redirect target", zap.String("file", name))
			return name
		}
	}

	if resp, err := r.head(ctx, r.noFollow, d.URL); err != nil {
		log.Debug("location probe failed", zap.Error(err))
	} else {
		if name := filenameFromLocation(resp.Header.Get("Location")); name != "" {
			log.Debug("resolved filename from location header", zap.String("file", name))
			return name
		}
		if name := FilenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
			log.Debug("resolved filename from content disposition", zap.String("file", name))
			return name
		}
	}

	name := marketplaceFallback(d.URL)
	log.Info("could not resolve filename, using fallback", zap.String("file", name))
	return name
}

// head issues a HEAD request and closes the body. Any status is accepted:
// a signed storage URL often rejects HEAD but still names the file.
func (r *Resolver) head(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, redactError(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp, nil
}
