package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/ledgerrelay/internal/ledger"
	"github.com/agentworkforce/ledgerrelay/internal/render"
	"github.com/agentworkforce/ledgerrelay/internal/snapshot"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single reconciliation pass over REST and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, log.Default())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.withEngine(); err != nil {
			return err
		}
		result, err := a.engine.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, result)
		}
		fmt.Fprintf(out, "pass %s: fetched %d, inserted %d, deleted %d, unchanged %d", result.PassID, result.Fetched, result.Inserted, result.Deleted, result.Unchanged)
		if result.Bootstrap {
			fmt.Fprint(out, " (bootstrap)")
		}
		if result.SendFailures > 0 {
			fmt.Fprintf(out, ", %d send failures", result.SendFailures)
		}
		fmt.Fprintln(out)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-render every tracked channel message",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, log.Default())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.withEngine(); err != nil {
			return err
		}
		result, err := a.engine.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "refresh %s: edited %d, missing %d, failed %d\n", result.PassID, result.Edited, result.Missing, result.Failed)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the current ledger rows and their total",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, log.Default())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.withSource(); err != nil {
			return err
		}
		rows, err := a.source.Fetch(cmd.Context())
		if err != nil {
			return err
		}
		return printListing(cmd.OutOrStdout(), a.profile.Labels, rows, jsonOutput)
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print a summary of the stored snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, log.Default())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.withStore(); err != nil {
			return err
		}
		state, err := a.store.Load(cmd.Context())
		if err != nil {
			return err
		}
		return printState(cmd.OutOrStdout(), state, jsonOutput)
	},
}

func printListing(out io.Writer, labels ledger.Labels, rows []ledger.Row, asJSON bool) error {
	total := render.Total(rows)
	if asJSON {
		return writeJSON(out, map[string]any{
			"rows":     rows,
			"count":    len(rows),
			"total":    render.FormatDecimal(total),
			"totalRaw": total.String(),
		})
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\n", labels.Primary, labels.Description, labels.Amount)
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Primary, row.Description, render.FormatAccounting(row.Amount))
	}
	fmt.Fprintf(tw, "\t\t%s\n", render.FormatDecimal(total))
	return tw.Flush()
}

func printState(out io.Writer, state snapshot.State, asJSON bool) error {
	if asJSON {
		data, err := snapshot.Encode(state)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	undelivered := 0
	for _, entry := range state.Entries {
		if entry.Handle == "" {
			undelivered++
		}
	}
	fmt.Fprintf(out, "bootstrapped: %t\n", state.Bootstrapped)
	fmt.Fprintf(out, "entries:      %d\n", len(state.Entries))
	fmt.Fprintf(out, "undelivered:  %d\n", undelivered)
	if !state.UpdatedAt.IsZero() {
		fmt.Fprintf(out, "updated:      %s\n", state.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
