package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/google/mail-importer/internal/batch"
	"github.com/google/mail-importer/internal/config"
	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/importer"
	"github.com/google/mail-importer/internal/ledger"
	"github.com/google/mail-importer/internal/mailstore"
	"github.com/google/mail-importer/internal/rate"
	"github.com/google/mail-importer/internal/runtime"
	"github.com/google/mail-importer/internal/syncer"
)

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [mailbox]",
		Short: "Import a Thunderbird profile's mail folders into Gmail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if len(args) == 1 {
				cfg.Mailbox = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			tokens, err := runtime.OpenTokenStore(cfg.TokenDir, cfg.KeyringPassphrase)
			if err != nil {
				return err
			}
			client, err := runtime.NewGmailClient(cmd.Context(), runtime.ClientOptions{
				ClientSecret: cfg.ClientSecret,
				User:         cfg.User,
				Tokens:       tokens,
				Policy:       cfg.Backoff,
				Logger:       a.logger,
			})
			if err != nil {
				return fmt.Errorf("create gmail client: %w", err)
			}
			return a.runImport(cmd.Context(), cfg, client, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("mailbox", "", "Thunderbird mail directory (or a single mbox file)")
	f.Int("max-messages", 0, "stop after reading this many messages (0 = all)")
	f.Int("batch-size", importer.DefaultBatchSize, "local messages per batch (<=100)")
	f.Int("max-retries", 3, "retry decisions allowed per rejected message")
	f.String("error-strategy", "skip", "handling of rejected uploads: skip, retry or stop")
	f.Int("rps", 10, "max Gmail requests per second (0 = unlimited)")
	f.Int("concurrency", 10, "concurrent calls per batch round")
	f.Int("max-rounds", 0, "give up on throttled calls after this many rounds (0 = never)")
	f.Duration("round-delay", 0, "pause before re-dispatching throttled calls")
	f.Bool("dry-run", false, "match only; upload and relabel nothing")
	return cmd
}

// runImport wires the pipeline around client and runs it to completion.
func (a *app) runImport(ctx context.Context, cfg config.Config, client gmail.Client, out io.Writer) (err error) {
	strategy, err := importer.StrategyByName(cfg.ErrorStrategy)
	if err != nil {
		return err
	}

	src, err := mailstore.OpenThunderbird(cfg.Mailbox, a.logger)
	if err != nil {
		return err
	}
	defer src.Close()
	a.logger.Info("mailbox opened", "path", cfg.Mailbox, "folders", len(src.Folders()))

	var limiter rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewTokenBucket(cfg.RPS)
	}
	exec := batch.NewExecutor(limiter, a.logger)
	exec.Concurrency = cfg.Concurrency
	exec.MaxRounds = cfg.MaxRounds
	exec.RoundDelay = cfg.RoundDelay

	engine := syncer.New(client, exec, limiter, a.logger)
	engine.DryRun = cfg.DryRun
	svc := importer.NewService(engine, strategy, nil, a.logger)

	if cfg.Ledger != "" {
		store, openErr := openLedger(cfg.Ledger)
		if openErr != nil {
			return openErr
		}
		defer store.Close()
		run := ledger.Run{ID: svc.RunID, Mailbox: cfg.Mailbox, Account: cfg.User, DryRun: cfg.DryRun}
		if err := store.StartRun(ctx, run); err != nil {
			return err
		}
		defer func() {
			// Record the final state even after cancellation.
			if finishErr := store.FinishRun(context.WithoutCancel(ctx), run.ID, err); finishErr != nil {
				err = errors.Join(err, finishErr)
			}
		}()
		svc.Recorder = store
	}

	sum, err := svc.Run(ctx, src, importer.Options{
		BatchSize:   cfg.BatchSize,
		MaxMessages: cfg.MaxMessages,
		MaxRetries:  cfg.MaxRetries,
	})
	printSummary(out, sum, cfg.DryRun)
	if err != nil {
		return fmt.Errorf("run import: %w", err)
	}
	return nil
}

func openLedger(path string) (*ledger.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return ledger.Open(path)
}

func printSummary(w io.Writer, sum importer.Summary, dryRun bool) {
	if dryRun {
		fmt.Fprintf(w, "run %s (dry run): read %d, matched %d, would upload %d\n",
			sum.RunID, sum.Read, sum.Matched, sum.WouldUpload)
		return
	}
	fmt.Fprintf(w, "run %s: read %d, uploaded %d, matched %d, skipped %d, label failures %d, in %s\n",
		sum.RunID, sum.Read, sum.Uploaded, sum.Matched, sum.Skipped, sum.LabelFailed, sum.Elapsed.Round(time.Millisecond))
}
