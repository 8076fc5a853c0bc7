package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// scriptedTransfer fails or succeeds per call and records the tokens it saw.
type scriptedTransfer struct {
	results []error
	tokens  []string
	retries int
}

func (s *scriptedTransfer) transfer(ctx context.Context, req Request) (Result, error) {
	i := len(s.tokens)
	s.tokens = append(s.tokens, req.Token)
	if i < len(s.results) && s.results[i] != nil {
		return Result{Retries: s.retries}, s.results[i]
	}
	return Result{Filename: "model.safetensors", Path: req.TargetDir + "/model.safetensors", Bytes: 5, Retries: s.retries}, nil
}

var errRemote = errors.New("remote failure")

func TestFallback_AuthFailsThenAnonymousSucceeds(t *testing.T) {
	s := &scriptedTransfer{results: []error{errRemote, nil}}
	out := RunWithFallback(context.Background(), KindTokenGated, Credentials{Token: "hf_x"}, Request{URL: "u", TargetDir: "/m"}, s.transfer)

	assert.True(t, out.Succeeded)
	assert.NoError(t, out.Err)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, []string{"hf_x", ""}, s.tokens)
	assert.Equal(t, "model.safetensors", out.Filename)
}

func TestFallback_BothFail(t *testing.T) {
	s := &scriptedTransfer{results: []error{errRemote, errRemote}}
	out := RunWithFallback(context.Background(), KindTokenGated, Credentials{Token: "hf_x"}, Request{URL: "u", TargetDir: "/m"}, s.transfer)

	assert.False(t, out.Succeeded)
	assert.ErrorIs(t, out.Err, errRemote)
	assert.Equal(t, 2, out.Attempts, "exactly two attempts")
	assert.Len(t, s.tokens, 2)
}

func TestFallback_FirstAttemptSucceeds(t *testing.T) {
	s := &scriptedTransfer{}
	out := RunWithFallback(context.Background(), KindTokenGated, Credentials{Token: "hf_x"}, Request{URL: "u", TargetDir: "/m"}, s.transfer)

	assert.True(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, int64(5), out.Bytes)
}

func TestFallback_TokenOnlyForGatedHosts(t *testing.T) {
	for _, kind := range []Kind{KindDirect, KindMarketplace, KindObjectStore} {
		s := &scriptedTransfer{}
		RunWithFallback(context.Background(), kind, Credentials{Token: "hf_x"}, Request{URL: "u", TargetDir: "/m", Token: "leak"}, s.transfer)
		assert.Equal(t, []string{""}, s.tokens, kind.String())
	}
}

func TestFallback_NoTokenConfigured(t *testing.T) {
	s := &scriptedTransfer{results: []error{errRemote, nil}}
	out := RunWithFallback(context.Background(), KindTokenGated, Credentials{}, Request{URL: "u", TargetDir: "/m"}, s.transfer)

	assert.False(t, out.Succeeded, "an anonymous retry would repeat the same request")
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, []string{""}, s.tokens)
}

func TestFallback_UnauthenticatedFailureIsTerminal(t *testing.T) {
	for _, kind := range []Kind{KindDirect, KindObjectStore} {
		s := &scriptedTransfer{results: []error{errRemote, nil}}
		out := RunWithFallback(context.Background(), kind, Credentials{Token: "hf_x"}, Request{URL: "u", TargetDir: "/m"}, s.transfer)

		assert.False(t, out.Succeeded, kind.String())
		assert.ErrorIs(t, out.Err, errRemote, kind.String())
		assert.Equal(t, 1, out.Attempts, kind.String())
	}
}

func TestFallback_MarketplaceFailureIsTerminal(t *testing.T) {
	s := &scriptedTransfer{results: []error{errRemote, nil}}
	out := RunWithFallback(context.Background(), KindMarketplace, Credentials{Token: "hf_x"}, Request{URL: "u", TargetDir: "/m"}, s.transfer)

	assert.False(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
}

func TestFallback_InvalidRequestIsTerminal(t *testing.T) {
	s := &scriptedTransfer{results: []error{ErrInvalidRequest, nil}}
	out := RunWithFallback(context.Background(), KindTokenGated, Credentials{Token: "hf_x"}, Request{}, s.transfer)

	assert.False(t, out.Succeeded)
	assert.ErrorIs(t, out.Err, ErrInvalidRequest)
	assert.Equal(t, 1, out.Attempts)
}

func TestFallback_CancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transfer := func(ctx context.Context, req Request) (Result, error) {
		cancel()
		return Result{}, context.Canceled
	}
	out := RunWithFallback(ctx, KindDirect, Credentials{}, Request{URL: "u", TargetDir: "/m"}, transfer)

	assert.False(t, out.Succeeded)
	assert.Equal(t, 1, out.Attempts)
}

func TestFallback_RetriesAccumulate(t *testing.T) {
	s := &scriptedTransfer{results: []error{errRemote, nil}, retries: 2}
	out := RunWithFallback(context.Background(), KindTokenGated, Credentials{Token: "hf_x"}, Request{URL: "u", TargetDir: "/m"}, s.transfer)

	assert.Equal(t, 4, out.Retries)
	assert.Equal(t, 2, out.Attempts)
}

func TestFallback_SkippedIsSuccess(t *testing.T) {
	transfer := func(ctx context.Context, req Request) (Result, error) {
		return Result{Filename: "x.bin", Skipped: true}, nil
	}
	out := RunWithFallback(context.Background(), KindDirect, Credentials{}, Request{URL: "u", TargetDir: "/m"}, transfer)

	assert.True(t, out.Succeeded)
	assert.True(t, out.Skipped)
}
