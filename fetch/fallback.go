package fetch

import (
	"context"
	"errors"

	"github.com/franksops/assetdock/engine"
)

// Credentials is the run-wide auth context. An empty token disables auth.
type Credentials struct {
	Token string
}

type fallbackState int

const (
	stateStart fallbackState = iota
	stateRetryNoAuth
	stateDone
	stateFailed
)

// RunWithFallback drives one request through the auth fallback chain:
// a primary attempt (with the token for token-gated hosts), then one attempt
// without auth. Only a primary attempt that carried a token gets the second
// try; anything else would repeat the same request.
// transfer is the only side effect, so the chain can be tested with a fake.
func RunWithFallback(ctx context.Context, kind Kind, creds Credentials, req Request, transfer TransferFunc) engine.Outcome {
	var (
		out   engine.Outcome
		res   Result
		err   error
		state = stateStart
	)

	for state != stateDone && state != stateFailed {
		attempt := req
		switch state {
		case stateStart:
			attempt.Token = ""
			if kind == KindTokenGated {
				attempt.Token = creds.Token
			}
		case stateRetryNoAuth:
			attempt.Token = ""
		}

		res, err = transfer(ctx, attempt)
		out.Attempts++
		out.Retries += res.Retries

		switch {
		case err == nil:
			state = stateDone
		case state == stateRetryNoAuth,
			attempt.Token == "",
			kind == KindMarketplace,
			errors.Is(err, ErrInvalidRequest),
			ctx.Err() != nil:
			state = stateFailed
		default:
			state = stateRetryNoAuth
		}
	}

	out.TargetDir = req.TargetDir
	if state == stateFailed {
		out.Err = err
		return out
	}
	out.Succeeded = true
	out.Filename = res.Filename
	out.Path = res.Path
	out.Bytes = res.Bytes
	out.Checksum = res.Checksum
	out.Skipped = res.Skipped
	return out
}
