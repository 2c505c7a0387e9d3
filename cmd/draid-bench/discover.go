package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List the devices that would be used, by stable identifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		devices, err := a.discover(ctx)
		if err != nil {
			return err
		}

		path := a.cfg.PathFunc()
		out := cmd.OutOrStdout()
		for _, id := range devices {
			fmt.Fprintf(out, "%s\t%s\n", id, path(id))
		}
		fmt.Fprintf(out, "%d devices\n", len(devices))
		return nil
	},
}
