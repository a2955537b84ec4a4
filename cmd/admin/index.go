package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tradepost.ai/internal/persistence/indexdb"
)

func (o *rootOpts) indexPath() string {
	return filepath.Join(o.worldDir(), "index", "trades.sqlite")
}

func newTradesCmd(opts *rootOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades [agent]",
		Short: "List recent trade sessions from the index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent := ""
			if len(args) == 1 {
				agent = args[0]
			}
			r, err := indexdb.OpenReader(opts.indexPath())
			if err != nil {
				return err
			}
			defer r.Close()

			rows, err := r.Trades(cmd.Context(), agent, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSTARTED\tENDED\tONE\tTWO\tOUTCOME\tPAID\tREASON")
			for _, t := range rows {
				ended := "-"
				if t.Outcome != indexdb.OutcomeOpen {
					ended = fmt.Sprint(t.EndedTick)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					t.SessionID, t.StartedTick, ended, t.PlayerOne, t.PlayerTwo, t.Outcome, t.OfferOne, t.OfferTwo, t.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max sessions")
	return cmd
}

func newSessionCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "session <session_id>",
		Short: "Print the audit trail of one trade session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := indexdb.OpenReader(opts.indexPath())
			if err != nil {
				return err
			}
			defer r.Close()

			entries, err := r.Audits(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no audit entries for session %s", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
