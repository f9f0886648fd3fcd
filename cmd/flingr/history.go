package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/postalsys/flingr/internal/history"
	"github.com/postalsys/flingr/internal/transfer"
)

func historyCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage saved connections and past transfers",
	}

	cmd.AddCommand(historyListCmd(opts))
	cmd.AddCommand(historyRemoveCmd(opts))
	cmd.AddCommand(historyTransfersCmd(opts))
	cmd.AddCommand(historyClearCmd(opts))

	return cmd
}

// withHistory opens the store for the duration of fn.
func withHistory(opts *globalOptions, fn func(store *history.Store) error) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	store, err := a.openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store)
}

func historyListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(opts, func(store *history.Store) error {
				entries, err := store.List()
				if err != nil {
					return err
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
}

func printEntries(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No saved connections.")
		return
	}

	fmt.Fprintf(w, "%-10s %-20s %-12s %-14s %s\n", "CODE", "NAME", "USER", "LAST USED", "ENDPOINTS")
	for _, e := range entries {
		c := e.Connection
		lastUsed := "never"
		if e.LastUsedAt != nil {
			lastUsed = humanize.Time(*e.LastUsedAt)
		}
		endpoints := c.InfoSummary()
		if endpoints == "" {
			endpoints = fmt.Sprintf("WAN: %s:%d", c.WANAddress, c.WANPort)
		}
		fmt.Fprintf(w, "%-10s %-20s %-12s %-14s %s\n",
			c.ActivationCode, truncate(c.ColloquialName, 20), truncate(c.UserName, 12), lastUsed, endpoints)
	}
}

func historyRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <activation-code>",
		Short: "Forget a saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(opts, func(store *history.Store) error {
				if err := store.Remove(args[0]); err != nil {
					if errors.Is(err, history.ErrNotFound) {
						return fmt.Errorf("no saved connection for %s", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func historyTransfersCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "transfers [activation-code]",
		Short: "Show past transfers, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := ""
			if len(args) == 1 {
				code = args[0]
			}
			return withHistory(opts, func(store *history.Store) error {
				records, err := store.ListTransfers(code, limit)
				if err != nil {
					return err
				}
				printTransfers(cmd.OutOrStdout(), records)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of transfers to show (0 for all)")

	return cmd
}

func printTransfers(w io.Writer, records []history.TransferRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No transfers recorded.")
		return
	}

	fmt.Fprintf(w, "%-16s %-10s %-24s %-10s %-22s %s\n", "WHEN", "CODE", "FILE", "SIZE", "RESULT", "ENDPOINT")
	for _, r := range records {
		result := r.Status
		if r.Reason != "" {
			result += " (" + r.Reason + ")"
		}
		fmt.Fprintf(w, "%-16s %-10s %-24s %-10s %-22s %s\n",
			humanize.Time(r.StartedAt), r.ActivationCode, truncate(r.FileName, 24),
			transfer.FormatSize(r.FileSize), result, r.Endpoint)
	}
}

func historyClearCmd(opts *globalOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all saved connections and transfer records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear history without --yes")
			}
			return withHistory(opts, func(store *history.Store) error {
				if err := store.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
