package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franksops/assetdock/config"
	"github.com/franksops/assetdock/manifest"
	"github.com/franksops/assetdock/store"
)

func newStatusCommand(a *app) *cobra.Command {
	var failedOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List recorded assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(a.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.ListJobs()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "STATE\tMANIFEST\tFILE\tSIZE\tATTEMPTS\tUPDATED\tERROR")
			for _, r := range records {
				if failedOnly && r.State != store.StateFailed {
					continue
				}
				file := manifest.RedactURL(r.URL)
				if r.Filename != "" {
					file = filepath.Join(r.TargetDir, r.Filename)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.State, r.Manifest, file, humanize.IBytes(uint64(r.TotalBytes)),
					r.Attempts, humanize.Time(r.UpdatedAt), r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String(flagStateDir, config.Default().StateDir, "Directory holding the state database")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only show failed assets")
	return cmd
}
