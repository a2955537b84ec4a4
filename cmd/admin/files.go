package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	persistlog "tradepost.ai/internal/persistence/log"
	"tradepost.ai/internal/persistence/snapshot"
)

var logKinds = map[string]bool{"events": true, "audit": true, "ledger": true}

func newLogsCmd(opts *rootOpts) *cobra.Command {
	var (
		grep  string
		files int
	)
	cmd := &cobra.Command{
		Use:       "logs <events|audit|ledger>",
		Short:     "Print the JSONL lines of the rotated log files",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"events", "audit", "ledger"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if !logKinds[kind] {
				return fmt.Errorf("unknown log kind %q", kind)
			}
			paths, err := persistlog.ListFiles(filepath.Join(opts.worldDir(), kind))
			if err != nil {
				return err
			}
			if files > 0 && len(paths) > files {
				paths = paths[len(paths)-files:]
			}
			out := cmd.OutOrStdout()
			for _, p := range paths {
				err := persistlog.ReadLines(p, func(line []byte) error {
					if grep != "" && !strings.Contains(string(line), grep) {
						return nil
					}
					_, err := out.Write(line)
					return err
				})
				if err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(p), err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&grep, "grep", "", "only print lines containing this text")
	cmd.Flags().IntVar(&files, "files", 0, "only read the newest N files (0: all)")
	return cmd
}

func newSnapshotCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [path]",
		Short: "Summarize a snapshot (default: latest for the world)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				p, err := snapshot.Latest(filepath.Join(opts.worldDir(), "snapshots"))
				if err != nil {
					return err
				}
				if p == "" {
					return fmt.Errorf("no snapshots under %s", opts.worldDir())
				}
				path = p
			}
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), path, snap)
		},
	}
}

func printSnapshot(out io.Writer, path string, snap snapshot.SnapshotV1) error {
	fmt.Fprintf(out, "snapshot %s world=%s tick=%d agents=%d ground=%d\n",
		filepath.Base(path), snap.Header.WorldID, snap.Header.Tick, len(snap.Agents), len(snap.Ground))
	for _, a := range snap.Agents {
		items := make([]string, 0, len(a.Inventory))
		for _, st := range a.Inventory {
			items = append(items, fmt.Sprintf("%s x%d", st.Item, st.Count))
		}
		sort.Strings(items)
		fmt.Fprintf(out, "  %-16s pos=%v %s\n", a.ID, a.Pos, strings.Join(items, ", "))
	}
	for _, g := range snap.Ground {
		fmt.Fprintf(out, "  ground %s owner=%s pos=%v %s x%d (%s)\n", g.ID, g.Owner, g.Pos, g.Item, g.Count, g.Reason)
	}
	return nil
}

func newStateCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Query a running server's admin state endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/state"
			cl := &http.Client{Timeout: 5 * time.Second}
			resp, err := cl.Get(u)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			var v any
			if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
				return fmt.Errorf("%s: %s", u, resp.Status)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(v); err != nil {
				return err
			}
			if resp.StatusCode/100 != 2 {
				return fmt.Errorf("%s: %s", u, resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base url")
	return cmd
}
