package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/scanner"
)

var (
	signalsAt     int64
	signalsFormat string
)

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Print the current signal generation",
	Long: `Print the current signal generation from the shared cache, or a past one
with --at (Unix ms), read from the cache or the signal store.

Examples:
  signallab signals
  signallab signals --format json
  signallab signals --at 1718000000000`,
	RunE: runSignals,
}

func init() {
	rootCmd.AddCommand(signalsCmd)
	signalsCmd.Flags().Int64Var(&signalsAt, "at", 0, "Generation timestamp (Unix ms)")
	signalsCmd.Flags().StringVar(&signalsFormat, "format", "table", "Output format (table|json)")
}

func runSignals(cmd *cobra.Command, _ []string) error {
	if signalsFormat != "table" && signalsFormat != "json" {
		return fmt.Errorf("unsupported format %q", signalsFormat)
	}
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer a.close()

	cache := scanner.NewGenerationCache(a.kv, cfg.Scanner.GenerationTTL)
	var g *domain.Generation
	if signalsAt > 0 {
		g, err = cache.Version(ctx, signalsAt)
		if err != nil {
			g, err = a.signals.GetByTime(ctx, signalsAt)
		}
	} else {
		g, err = cache.Current(ctx)
	}
	if err != nil {
		return err
	}

	if signalsFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	}
	return printGeneration(cmd, g)
}

func printGeneration(cmd *cobra.Command, g *domain.Generation) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generation %s (%d considered, %d signals)\n\n",
		time.UnixMilli(g.GeneratedAt).UTC().Format(time.RFC3339), g.Considered, len(g.Signals))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tMINT\tSYMBOL\tSCORE\tCONF\tRISK\tVOL 24H\tLIQUIDITY")
	for _, s := range g.Signals {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f\t%.2f\t%s\t%.0f\t%.0f\n",
			s.Rank, s.Mint, s.Symbol, s.Score, s.Confidence, s.Risk, s.VolumeH24, s.LiquidityUSD)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, s := range g.Signals {
		fmt.Fprintf(out, "\n#%d %s: %s", s.Rank, s.Mint, s.Justification)
	}
	fmt.Fprintln(out)
	return nil
}
