package main

import (
	"errors"
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/draid-bench/pkg/config"
)

var (
	// Set via ldflags
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configFile string
	envFile    string
	flags      *config.FlagSet
)

var rootCmd = &cobra.Command{
	Use:   "draid-bench",
	Short: "Benchmark dRAID2 recovery across every feasible array layout",
	Long: `draid-bench discovers the disks attached to a storage host, enumerates every
dRAID2 layout that partitions them into equal redundancy groups, and for each
layout builds a throwaway pool, degrades it, and times the recovery.

Every command that creates a pool destroys it again, including on failure
and interrupt. Pools are destructive: only point this at disks you can wipe.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("draid-bench version %s (commit: %s, built: %s)\n", Version, Commit, BuildTime))

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Path to a YAML configuration file")
	pf.StringVar(&envFile, "env-file", "", "Path to a .env file loaded before the environment is read")
	flags = config.BindFlags(pf)

	klogFlags := goflag.NewFlagSet("klog", goflag.ExitOnError)
	klog.InitFlags(klogFlags)
	pf.AddGoFlagSet(klogFlags)

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "draid-bench %s\n", Version)
		fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", Commit)
		fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildTime)
	},
}

// exitError carries a specific process exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	klog.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
