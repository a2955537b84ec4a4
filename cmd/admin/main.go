package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type rootOpts struct {
	dataDir string
	worldID string
	dbPath  string
}

func (o *rootOpts) worldDir() string { return filepath.Join(o.dataDir, "worlds", o.worldID) }

func (o *rootOpts) ledgerPath() string {
	if o.dbPath != "" {
		return o.dbPath
	}
	return filepath.Join(o.dataDir, "ledger.sqlite")
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Inspect and repair a tradepost deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data", "./data", "runtime data directory")
	root.PersistentFlags().StringVar(&opts.worldID, "world", "world_1", "world id")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "ledger sqlite path (default: <data>/ledger.sqlite)")

	root.AddCommand(
		newBalanceCmd(opts),
		newAdjustCmd(opts, "deposit"),
		newAdjustCmd(opts, "withdraw"),
		newHistoryCmd(opts),
		newLogsCmd(opts),
		newSnapshotCmd(opts),
		newTradesCmd(opts),
		newSessionCmd(opts),
		newStateCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
