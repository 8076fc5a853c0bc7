package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/franksops/assetdock/engine"
	"github.com/franksops/assetdock/provision"
)

func newProvisionCommand(a *app) *cobra.Command {
	var (
		layerPath         string
		pip               string
		pluginConcurrency int
	)

	cmd := &cobra.Command{
		Use:   "provision --layer <file>",
		Short: "Run every step of a build layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			layer, err := provision.LoadLayer(layerPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			total := 0
			if set, err := layer.ManifestSet(a.cfg.StorageRoot); err == nil {
				total = set.Total()
			}

			p, err := newPipeline(a.cfg, a.logger, displayFrom(cmd.Flags()), total, cancel)
			if err != nil {
				return err
			}

			runner := &provision.ExecRunner{Logger: a.logger.Named("exec")}
			installer := &provision.PipInstaller{Runner: runner, Pip: pip}
			orch := provision.New(provision.Options{
				StorageRoot:         a.cfg.StorageRoot,
				SkipDownloads:       a.cfg.SkipDownloads,
				FailOnMissingAssets: a.cfg.FailOnMissingAssets,
				PluginConcurrency:   pluginConcurrency,
				Owner:               a.cfg.Owner,
				Packages:            installer,
				Plugins:             &provision.GitPluginSyncer{Runner: runner, Pip: installer, Local: p.local, Logger: a.logger.Named("plugins")},
				Assets:              p.runner,
				Permissions:         &provision.OwnershipNormalizer{Local: p.local, Logger: a.logger.Named("permissions")},
				Smoke:               &provision.CommandSmokeTester{Runner: runner},
				Logger:              a.logger.Named("provision"),
			})

			report, err := orch.Run(ctx, layer)
			p.Close()
			printSummary(report.Assets)
			if err != nil {
				return err
			}
			a.logger.Info("done", zap.String("layer", report.Layer), zap.Duration("duration", report.Duration))
			return nil
		},
	}

	cmd.Flags().StringVarP(&layerPath, "layer", "l", "", "Layer file")
	cmd.Flags().StringVar(&pip, "pip", "pip", "pip executable for packages and plugin requirements")
	cmd.Flags().IntVar(&pluginConcurrency, "plugin-concurrency", 4, "Plugins synced at once")
	_ = cmd.MarkFlagRequired("layer")
	addPipelineFlags(cmd.Flags())
	return cmd
}

// printSummary writes the per-manifest tally and failures to stdout.
func printSummary(s engine.Summary) {
	if s.Total == 0 {
		return
	}
	for _, m := range s.Manifests {
		if m.Total == 0 {
			continue
		}
		fmt.Fprintf(os.Stdout, "%-16s %d ok (%d skipped), %d failed, %s\n",
			m.Name, m.Succeeded, m.Skipped, m.Failed, humanize.IBytes(uint64(m.Bytes)))
	}
	for _, o := range s.Failures() {
		fmt.Fprintf(os.Stdout, "  failed: %s: %v\n", o.Descriptor.Redacted(), o.Err)
	}
	fmt.Fprintf(os.Stdout, "%d/%d assets ready, %s fetched\n", s.Succeeded, s.Total, humanize.IBytes(uint64(s.Bytes)))
}
