package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/franksops/assetdock/config"
	"github.com/franksops/assetdock/engine"
	"github.com/franksops/assetdock/fetch"
	"github.com/franksops/assetdock/metrics"
	"github.com/franksops/assetdock/provider"
	"github.com/franksops/assetdock/store"
	"github.com/franksops/assetdock/ui"
)

// pipeline owns everything a run needs and tears it down in order.
type pipeline struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.BoltStore
	local    *provider.LocalProvider
	runner   *engine.BatchRunner
	recorder *metrics.Recorder
	bars     *ui.BarObserver
	tui      *tuiSession
}

func openStore(cfg *config.Config) (*store.BoltStore, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	db, err := store.NewBoltStore(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return db, nil
}

func newFetcher(cfg *config.Config, client *http.Client, local *provider.LocalProvider, buffers *engine.BufferPool, logger *zap.Logger) *fetch.Fetcher {
	s3opts := provider.S3Options{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	}
	exec := fetch.NewExecutor(fetch.ExecutorOptions{
		Client:         client,
		Local:          local,
		Buffers:        buffers,
		UserAgent:      cfg.UserAgent,
		Retries:        cfg.Retries,
		Timeout:        cfg.Timeout,
		StallTimeout:   cfg.StallTimeout,
		MaxBytesPerSec: cfg.MaxBytesPerSec,
		S3: func(ctx context.Context, bucket string) (provider.Source, error) {
			return provider.NewS3Provider(ctx, bucket, "", s3opts)
		},
		Logger: logger.Named("transfer"),
	})
	resolver := fetch.NewResolver(client, cfg.UserAgent, logger.Named("resolve"))
	resolver.ProbeTimeout = cfg.ResolveTimeout
	hosts := fetch.Hosts{Marketplace: cfg.MarketplaceHosts, TokenGated: cfg.TokenGatedHosts}
	return fetch.NewFetcher(resolver, exec.Transfer, hosts, fetch.Credentials{Token: cfg.Token}, logger.Named("fetch"))
}

// newPipeline wires the runner for total assets. cancel is called if the
// dashboard is closed by the user.
func newPipeline(cfg *config.Config, logger *zap.Logger, mode displayMode, total int, cancel context.CancelFunc) (*pipeline, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	p := &pipeline{
		cfg:      cfg,
		logger:   logger,
		store:    db,
		local:    provider.NewLocalProvider(""),
		recorder: metrics.NewRecorder(),
	}
	buffers := engine.NewBufferPool(cfg.BufferSize)
	fetcher := newFetcher(cfg, &http.Client{}, p.local, buffers, logger)

	observers := engine.Observers{p.recorder}
	switch mode {
	case displayTUI:
		p.tui = startTUI(total, cancel)
		observers = append(observers, p.tui.observer)
	case displayBars:
		p.bars = ui.NewBarObserver(os.Stderr)
		observers = append(observers, p.bars)
	default:
		observers = append(observers, engine.NewLogObserver(logger.Named("assets")))
	}

	p.runner = engine.NewBatchRunner(fetcher, p.local, engine.RunnerOptions{
		Concurrency: cfg.Concurrency,
		Verify:      cfg.Verify,
		Tracker:     engine.NewJobTracker(db, engine.DefaultCheckpointConfig),
		Observer:    observers,
		Buffers:     buffers,
		Logger:      logger.Named("batch"),
	})
	return p, nil
}

// Close flushes displays, writes metrics and closes the store.
func (p *pipeline) Close() {
	if p.bars != nil {
		p.bars.Wait()
	}
	if p.tui != nil {
		p.tui.finish()
	}
	if p.cfg.MetricsFile != "" {
		if err := p.recorder.WriteTextfile(p.cfg.MetricsFile); err != nil {
			p.logger.Warn("failed to write metrics", zap.Error(err))
		}
	}
	if err := p.store.Close(); err != nil {
		p.logger.Warn("failed to close state store", zap.Error(err))
	}
}

// tuiSession runs the dashboard beside the batch.
type tuiSession struct {
	program  *tea.Program
	observer *ui.TUIObserver
	done     chan struct{}
}

func startTUI(total int, cancel context.CancelFunc) *tuiSession {
	program := tea.NewProgram(ui.NewTUIModel(ui.UIState{TotalAssets: total}), tea.WithAltScreen())
	s := &tuiSession{
		program:  program,
		observer: ui.NewTUIObserver(program.Send, total),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		final, err := program.Run()
		if err != nil {
			cancel()
			return
		}
		// Quitting before the run finished cancels it.
		if m, ok := final.(ui.TUIModel); !ok || !m.State().Done {
			cancel()
		}
	}()
	return s
}

func (s *tuiSession) finish() {
	s.observer.Finish()
	<-s.done
}
