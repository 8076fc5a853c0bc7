package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/assetdock/engine"
)

func record(r *Recorder) {
	ckpt := engine.TransferJob{Manifest: "checkpoints"}
	lora := engine.TransferJob{Manifest: "lora"}

	r.AssetStarted(ckpt)
	r.AssetProgress(ckpt, 10, 100)
	r.AssetFinished(ckpt, engine.Outcome{Succeeded: true, Bytes: 100, Attempts: 1, Duration: 2 * time.Second})
	r.AssetFinished(ckpt, engine.Outcome{Succeeded: true, Skipped: true, Duration: time.Millisecond})
	r.AssetFinished(lora, engine.Outcome{Err: errors.New("404"), Attempts: 2, Duration: time.Second})
}

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder()
	record(r)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.assets.WithLabelValues("checkpoints", ResultFetched)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.assets.WithLabelValues("checkpoints", ResultSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.assets.WithLabelValues("lora", ResultFailed)))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.bytes.WithLabelValues("checkpoints")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts.WithLabelValues("lora")))
	assert.Equal(t, 3, testutil.CollectAndCount(r.duration))
}

func TestRecorder_IndependentRegistries(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	record(a)

	assert.Equal(t, 0, testutil.CollectAndCount(b.assets))
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	record(r)

	path := filepath.Join(t.TempDir(), "assetdock.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `assetdock_assets_total{manifest="checkpoints",result="fetched"} 1`), text)
	assert.Contains(t, text, "assetdock_bytes_total")
	assert.Contains(t, text, "assetdock_transfer_duration_seconds_bucket")
}

func TestRecorder_WriteTextfileBadDir(t *testing.T) {
	r := NewRecorder()
	err := r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	assert.Error(t, err)
}
