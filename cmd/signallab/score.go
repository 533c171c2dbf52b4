package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"solana-signal-lab/internal/batch"
	"solana-signal-lab/internal/control"
	"solana-signal-lab/internal/domain"
	"solana-signal-lab/internal/scoring"
	"solana-signal-lab/internal/solana"
	"solana-signal-lab/internal/storage"
)

var (
	scoreEnqueue bool
	scoreName    string
	scoreSymbol  string
)

var scoreCmd = &cobra.Command{
	Use:   "score <mint>",
	Short: "Score one token now, or queue it for the running batcher",
	Long: `Score one token and print the result as JSON. The result is persisted like
any batch result.

With --enqueue the request is pushed to the shared score-requests queue and
picked up by a running "serve" process on its next processing tick.

Examples:
  signallab score EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
  signallab score <mint> --enqueue`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().BoolVar(&scoreEnqueue, "enqueue", false, "Queue for the running batcher instead of scoring here")
	scoreCmd.Flags().StringVar(&scoreName, "name", "", "Token name hint")
	scoreCmd.Flags().StringVar(&scoreSymbol, "symbol", "", "Token symbol hint")
}

func runScore(cmd *cobra.Command, args []string) error {
	mint := args[0]
	if !solana.IsValidPubkey(mint) {
		return fmt.Errorf("invalid mint address %q", mint)
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

	if scoreEnqueue {
		q := control.NewQueue(a.kv, batch.RequestQueue)
		req := batch.ScoreRequest{Mint: mint, Name: scoreName, Symbol: scoreSymbol, RequestedAt: time.Now().UnixMilli()}
		if err := q.Enqueue(ctx, req); err != nil {
			return err
		}
		n, _ := q.Len(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s (%d pending)\n", mint, n)
		return nil
	}

	engine, err := a.engine()
	if err != nil {
		return err
	}
	lock, err := control.NewLocker(a.kv, control.LockOptions{Attempts: 1}).
		Acquire(ctx, "entity:"+mint, cfg.Batch.LockTTL)
	if errors.Is(err, domain.ErrLockContention) {
		return fmt.Errorf("%s is being scored by another process", mint)
	}
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	out, err := engine.Score(ctx, mint, scoring.Entity{Mint: mint, Name: scoreName, Symbol: scoreSymbol})
	if err != nil {
		return err
	}
	if a.snapshots != nil {
		if err := a.snapshots.InsertBulk(ctx, out.Snapshots); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
	}
	if err := a.scores.Upsert(ctx, &out.Result); err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out.Result)
}
