package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franksops/assetdock/engine"
	"github.com/franksops/assetdock/manifest"
)

// Step names a stage of a layer.
type Step string

const (
	StepPackages    Step = "packages"
	StepPlugins     Step = "plugins"
	StepAssets      Step = "assets"
	StepPermissions Step = "permissions"
	StepSmokeTest   Step = "smoke_test"
)

// ErrAssetsIncomplete is returned when FailOnMissingAssets is set and at
// least one asset failed.
var ErrAssetsIncomplete = errors.New("assets incomplete")

// StepError is a build-fatal failure of one step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// AssetRunner fetches a manifest set. engine.BatchRunner is the production one.
type AssetRunner interface {
	Run(ctx context.Context, set manifest.Set) engine.Summary
}

// Options wires an Orchestrator. Nil collaborators disable their step.
type Options struct {
	StorageRoot         string
	SkipDownloads       bool
	FailOnMissingAssets bool
	PluginConcurrency   int
	// Owner applies when the layer names none.
	Owner string

	Packages    PackageInstaller
	Plugins     PluginSyncer
	Assets      AssetRunner
	Permissions PermissionNormalizer
	Smoke       SmokeTester

	Logger *zap.Logger
}

// Report summarises a layer run.
type Report struct {
	Layer          string
	Packages       int
	Plugins        int
	Assets         engine.Summary
	AssetsSkipped  bool
	Normalized     bool
	SmokeTested    bool
	Duration       time.Duration
	CompletedSteps []Step
}

// Orchestrator runs layers.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options) *Orchestrator {
	if opts.PluginConcurrency < 1 {
		opts.PluginConcurrency = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{opts: opts, logger: logger}
}

// Run executes layer. Asset failures are tolerated unless
// FailOnMissingAssets is set; every other failure is a *StepError.
func (o *Orchestrator) Run(ctx context.Context, layer *Layer) (Report, error) {
	start := time.Now()
	report := Report{Layer: layer.Name}
	log := o.logger.With(zap.String("layer", layer.Name))

	steps := []struct {
		step Step
		run  func(context.Context, *Layer, *Report, *zap.Logger) error
	}{
		{StepPackages, o.installPackages},
		{StepPlugins, o.syncPlugins},
		{StepAssets, o.fetchAssets},
		{StepPermissions, o.normalize},
		{StepSmokeTest, o.smokeTest},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, &StepError{Step: s.step, Err: err}
		}
		if err := s.run(ctx, layer, &report, log); err != nil {
			report.Duration = time.Since(start)
			log.Error("layer failed", zap.String("step", string(s.step)), zap.Error(err))
			return report, &StepError{Step: s.step, Err: err}
		}
		report.CompletedSteps = append(report.CompletedSteps, s.step)
	}

	report.Duration = time.Since(start)
	log.Info("layer provisioned", zap.Duration("duration", report.Duration))
	return report, nil
}

func (o *Orchestrator) installPackages(ctx context.Context, layer *Layer, report *Report, log *zap.Logger) error {
	if len(layer.Packages) == 0 || o.opts.Packages == nil {
		return nil
	}
	log.Info("installing packages", zap.Strings("packages", layer.Packages))
	if err := o.opts.Packages.Install(ctx, layer.Packages); err != nil {
		return err
	}
	report.Packages = len(layer.Packages)
	return nil
}

func (o *Orchestrator) syncPlugins(ctx context.Context, layer *Layer, report *Report, log *zap.Logger) error {
	if len(layer.Plugins) == 0 || o.opts.Plugins == nil {
		return nil
	}
	log.Info("syncing plugins", zap.Int("plugins", len(layer.Plugins)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.PluginConcurrency)
	for _, p := range layer.Plugins {
		g.Go(func() error {
			return o.opts.Plugins.Sync(gctx, p, p.Target(layer.PluginsDir))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	report.Plugins = len(layer.Plugins)
	return nil
}

func (o *Orchestrator) fetchAssets(ctx context.Context, layer *Layer, report *Report, log *zap.Logger) error {
	if o.opts.SkipDownloads {
		log.Info("skipping asset downloads")
		report.AssetsSkipped = true
		return nil
	}
	set, err := layer.ManifestSet(o.opts.StorageRoot)
	if err != nil {
		return err
	}
	if set.Total() == 0 || o.opts.Assets == nil {
		return nil
	}

	report.Assets = o.opts.Assets.Run(ctx, set)
	if err := ctx.Err(); err != nil {
		return err
	}
	if report.Assets.Failed > 0 {
		if o.opts.FailOnMissingAssets {
			return fmt.Errorf("%w: %d of %d failed", ErrAssetsIncomplete, report.Assets.Failed, report.Assets.Total)
		}
		log.Warn("continuing without some assets", zap.Int("failed", report.Assets.Failed))
	}
	return nil
}

func (o *Orchestrator) normalize(ctx context.Context, layer *Layer, report *Report, log *zap.Logger) error {
	owner := layer.Owner
	if owner == "" {
		owner = o.opts.Owner
	}
	if owner == "" || o.opts.Permissions == nil {
		return nil
	}
	root := layer.StorageRoot
	if root == "" {
		root = o.opts.StorageRoot
	}
	if err := o.opts.Permissions.Normalize(ctx, root, owner); err != nil {
		return err
	}
	report.Normalized = true
	return nil
}

func (o *Orchestrator) smokeTest(ctx context.Context, layer *Layer, report *Report, log *zap.Logger) error {
	if layer.SmokeTest == nil || o.opts.Smoke == nil {
		return nil
	}
	log.Info("running smoke test", zap.String("command", layer.SmokeTest.Command))
	if err := o.opts.Smoke.Test(ctx, *layer.SmokeTest); err != nil {
		return err
	}
	report.SmokeTested = true
	return nil
}
