package main

import (
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/ledgerrelay/internal/config"
)

var (
	cfg        *config.Config
	jsonOutput bool

	flagStateDSN     string
	flagSheetID      string
	flagSheetName    string
	flagSheetRange   string
	flagProfile      string
	flagHTTPAddr     string
	flagPollInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "ledgerrelay <command>",
	Short:         "Relay new spreadsheet ledger rows to a Discord channel",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, loaded)
		cfg = loaded
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagStateDSN, "state-dsn", "", "snapshot store DSN (overrides LEDGERRELAY_STATE_DSN)")
	flags.StringVar(&flagSheetID, "sheet-id", "", "spreadsheet id (overrides LEDGERRELAY_SHEET_ID)")
	flags.StringVar(&flagSheetName, "sheet-name", "", "worksheet name (overrides LEDGERRELAY_SHEET_NAME)")
	flags.StringVar(&flagSheetRange, "range", "", "cell range, e.g. B2:D1000 (overrides LEDGERRELAY_SHEET_RANGE)")
	flags.StringVar(&flagProfile, "profile", "", "TOML ledger profile (overrides LEDGERRELAY_PROFILE_FILE)")
	flags.StringVar(&flagHTTPAddr, "http-addr", "", "status API listen address (overrides LEDGERRELAY_HTTP_ADDR)")
	flags.DurationVar(&flagPollInterval, "interval", 0, "poll interval (overrides LEDGERRELAY_POLL_INTERVAL)")
	flags.BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(serveCmd, onceCmd, listCmd, refreshCmd, stateCmd)
}

// applyFlagOverrides copies explicitly set flags over the environment.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("state-dsn") {
		c.StateDSN = flagStateDSN
	}
	if flags.Changed("sheet-id") {
		c.SheetID = flagSheetID
	}
	if flags.Changed("sheet-name") {
		c.SheetName = flagSheetName
	}
	if flags.Changed("range") {
		c.SheetRange = flagSheetRange
	}
	if flags.Changed("profile") {
		c.ProfileFile = flagProfile
	}
	if flags.Changed("http-addr") {
		c.HTTPAddr = flagHTTPAddr
	}
	if flags.Changed("interval") && flagPollInterval > 0 {
		c.PollInterval = flagPollInterval
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("ledgerrelay: %v", err)
		os.Exit(1)
	}
}
