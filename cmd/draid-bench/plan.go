package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"git.srvlab.io/whiskey/draid-bench/pkg/catalog"
	"git.srvlab.io/whiskey/draid-bench/pkg/layout"
)

const planSeparator = "------"

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the create command for every feasible layout without touching any pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		_, plans, err := a.plans(ctx)
		if err != nil {
			return err
		}
		printPlans(cmd.OutOrStdout(), a.cfg.Zpool, a.cfg.PoolName, a.cfg.PathFunc(), plans)
		return nil
	},
}

// printPlans writes each plan's create command followed by a separator line
func printPlans(w io.Writer, tool, pool string, path catalog.PathFunc, plans []layout.Plan) {
	for _, p := range plans {
		fmt.Fprintf(w, "# %s\n", p.Summary())
		fmt.Fprintln(w, p.CommandLine(tool, pool, path))
		fmt.Fprintln(w, planSeparator)
	}
}
