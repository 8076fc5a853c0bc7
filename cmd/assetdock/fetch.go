package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/franksops/assetdock/fetch"
	"github.com/franksops/assetdock/manifest"
	"github.com/franksops/assetdock/provision"
)

func newFetchCommand(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "fetch [--file manifests.yaml | <dir> <descriptor>...]",
		Short: "Fetch a manifest file, or descriptors (url or url|filename) into one directory",
		Args: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := fetchSet(a.cfg.StorageRoot, file, args)
			if err != nil {
				return err
			}
			if a.cfg.SkipDownloads {
				a.logger.Info("skipping asset downloads")
				return nil
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			p, err := newPipeline(a.cfg, a.logger, displayFrom(cmd.Flags()), set.Total(), cancel)
			if err != nil {
				return err
			}
			summary := p.runner.Run(ctx, set)
			p.Close()
			printSummary(summary)

			if err := ctx.Err(); err != nil {
				return err
			}
			if summary.Failed > 0 && a.cfg.FailOnMissingAssets {
				return fmt.Errorf("%w: %d of %d failed", provision.ErrAssetsIncomplete, summary.Failed, summary.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Manifest set file; relative dirs resolve against the storage root")
	addPipelineFlags(cmd.Flags())
	return cmd
}

// fetchSet builds the set from a manifest file, or from a directory and
// its descriptors given on the command line.
func fetchSet(root, file string, args []string) (manifest.Set, error) {
	if file != "" {
		return manifest.Load(file, root)
	}
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return nil, err
	}
	return manifest.Build(dir, []manifest.Spec{{Name: "fetch", Dir: dir, Entries: args[1:]}})
}

func newResolveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <descriptor>...",
		Short: "Print the filename each descriptor would be stored under",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{}
			resolver := fetch.NewResolver(client, a.cfg.UserAgent, a.logger.Named("resolve"))
			resolver.ProbeTimeout = a.cfg.ResolveTimeout
			hosts := fetch.Hosts{Marketplace: a.cfg.MarketplaceHosts, TokenGated: a.cfg.TokenGatedHosts}

			for _, arg := range args {
				d, err := manifest.ParseDescriptor(arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", d.Redacted(), resolveName(cmd.Context(), resolver, hosts, d))
			}
			return nil
		},
	}
}

// resolveName mirrors the naming the fetcher applies before a transfer.
// Non-marketplace names may still change to the server's
// Content-Disposition at download time.
func resolveName(ctx context.Context, r *fetch.Resolver, hosts fetch.Hosts, d manifest.Descriptor) string {
	if d.HasOverride() {
		return d.FilenameOverride
	}
	if fetch.Classify(d.URL, hosts) == fetch.KindMarketplace {
		return r.Resolve(ctx, d)
	}
	if name := fetch.BasenameFromURL(d.URL); name != "" {
		return name
	}
	return "(server decides)"
}
