package engine

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Observer receives per-asset lifecycle events. Implementations are called
// from worker goroutines and must guard their own state.
type Observer interface {
	AssetStarted(job TransferJob)
	// AssetProgress reports bytes written so far for the current attempt.
	// total is -1 when the size is unknown.
	AssetProgress(job TransferJob, written, total int64)
	AssetFinished(job TransferJob, o Outcome)
}

// Observers fans events out to every member.
type Observers []Observer

func (obs Observers) AssetStarted(job TransferJob) {
	for _, o := range obs {
		o.AssetStarted(job)
	}
}

func (obs Observers) AssetProgress(job TransferJob, written, total int64) {
	for _, o := range obs {
		o.AssetProgress(job, written, total)
	}
}

func (obs Observers) AssetFinished(job TransferJob, out Outcome) {
	for _, o := range obs {
		o.AssetFinished(job, out)
	}
}

// LogObserver writes one line when an asset starts and one when it ends.
type LogObserver struct {
	logger *zap.Logger
}

// NewLogObserver returns an Observer that logs to logger.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) AssetStarted(job TransferJob) {
	l.logger.Info("fetching asset",
		zap.String("manifest", job.Manifest),
		zap.String("url", job.Descriptor.Redacted()),
		zap.String("dir", job.TargetDir),
	)
}

func (l *LogObserver) AssetProgress(TransferJob, int64, int64) {}

func (l *LogObserver) AssetFinished(job TransferJob, o Outcome) {
	fields := []zap.Field{
		zap.String("manifest", job.Manifest),
		zap.String("url", job.Descriptor.Redacted()),
		zap.String("file", o.Filename),
		zap.Int("attempts", o.Attempts),
		zap.Duration("took", o.Duration),
	}
	switch {
	case !o.Succeeded:
		l.logger.Warn("asset failed", append(fields, zap.Error(o.Err))...)
	case o.Skipped:
		l.logger.Info("asset already present", fields...)
	default:
		l.logger.Info("asset fetched",
			append(fields, zap.String("size", humanize.IBytes(uint64(o.Bytes))))...)
	}
}

// LogSummary writes the per-manifest and overall tallies.
func LogSummary(logger *zap.Logger, s Summary) {
	for _, m := range s.Manifests {
		logger.Info("manifest done",
			zap.String("manifest", m.Name),
			zap.String("dir", m.TargetDir),
			zap.Int("total", m.Total),
			zap.Int("succeeded", m.Succeeded),
			zap.Int("skipped", m.Skipped),
			zap.Int("failed", m.Failed),
			zap.String("bytes", humanize.IBytes(uint64(m.Bytes))),
		)
	}
	logger.Info("assets done",
		zap.Int("total", s.Total),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.String("bytes", humanize.IBytes(uint64(s.Bytes))),
	)
}
