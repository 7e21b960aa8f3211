package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kvsync/kvsync/internal/assets"
	"github.com/kvsync/kvsync/internal/manifest"
)

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [manifest]",
		Short: "Print the manifest contents as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := buildConfig()
				if err != nil {
					return err
				}
				path = cfg.ManifestPath
			}

			ix, err := manifest.Read(path)
			if err != nil {
				return err
			}

			// Same payload shape as the manifest file, pretty printed.
			payload := struct {
				Records []*assets.Record `json:"records"`
			}{Records: ix.Records()}

			data, err := json.MarshalIndent(&payload, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
