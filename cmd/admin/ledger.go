package main

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/persistence/ledgerdb"
)

func openLedger(opts *rootOpts, errOut io.Writer) (*ledgerdb.SQLiteLedger, error) {
	return ledgerdb.OpenSQLite(opts.ledgerPath(), log.New(errOut, "[ledgerdb] ", log.LstdFlags))
}

func newBalanceCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [account]",
		Short: "Show one balance, or every account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openLedger(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				fmt.Fprintf(out, "%s\t%d\n", args[0], db.Balance(args[0]))
				return nil
			}
			balances, order, err := db.Accounts(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACCOUNT\tBALANCE")
			for _, acct := range order {
				fmt.Fprintf(tw, "%s\t%d\n", acct, balances[acct])
			}
			return tw.Flush()
		},
	}
}

// newAdjustCmd builds deposit and withdraw. Run them while the server is
// stopped, or against a ledger the server does not hold open.
func newAdjustCmd(opts *rootOpts, op string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   op + " <account> <amount>",
		Short: "Manually " + op + " currency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer: %q", args[1])
			}
			db, err := openLedger(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer db.Close()

			var ok bool
			if op == "deposit" {
				ok = db.Deposit(args[0], amount, reason)
			} else {
				ok = db.Withdraw(args[0], amount, reason)
			}
			if !ok {
				return fmt.Errorf("%s %d on %s refused (balance %d)", op, amount, args[0], db.Balance(args[0]))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", args[0], db.Balance(args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", ledger.ReasonAdmin, "audit reason")
	return cmd
}

func newHistoryCmd(opts *rootOpts) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [account]",
		Short: "Show recent ledger mutations, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openLedger(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer db.Close()

			account := ""
			if len(args) == 1 {
				account = args[0]
			}
			entries, err := db.History(cmd.Context(), account, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tACCOUNT\tDELTA\tBALANCE\tREASON")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%+d\t%d\t%s\n", e.At.UTC().Format(time.RFC3339), e.Account, e.Delta, e.Balance, e.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	return cmd
}
