package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"

	"github.com/franksops/assetdock/manifest"
)

// ErrInvalidRequest marks a transfer that was misconfigured (no URL or no
// target directory). It is never retried.
var ErrInvalidRequest = errors.New("invalid transfer request")

// errStalled is returned when no bytes arrived within the stall timeout.
var errStalled = errors.New("transfer stalled")

// StatusError is a terminal non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", manifest.RedactURL(e.URL), e.Code, http.StatusText(e.Code))
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// retryable decides whether a failed attempt should be repeated after a
// backoff. Client errors, bad requests and local write errors are final.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return false
	}
	return true
}

// redactError strips secrets from the URL the http client puts in its
// errors. Unwrap still reaches the cause.
func redactError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = manifest.RedactURL(ue.URL)
	}
	return err
}
