// Package report summarizes a ledger run for humans and scripts.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/mail-importer/internal/ledger"
)

const errorDisplayLimit = 80

// FailureStatuses are the outcome statuses listed individually.
var FailureStatuses = []string{"skipped", "failed", "label_failed"}

// Store is the slice of *ledger.Store the report reads.
type Store interface {
	LatestRun(ctx context.Context) (ledger.Run, error)
	GetRun(ctx context.Context, id string) (ledger.Run, error)
	Counts(ctx context.Context, runID string) (map[string]int, error)
	Failed(ctx context.Context, runID string, statuses ...string) ([]ledger.Entry, error)
}

// Report is one run's outcome summary.
type Report struct {
	RunID     string         `json:"run_id"`
	Mailbox   string         `json:"mailbox"`
	Account   string         `json:"account"`
	DryRun    bool           `json:"dry_run"`
	State     string         `json:"state"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Total     int            `json:"total"`
	Counts    map[string]int `json:"counts"`
	ByFolder  []FolderStat   `json:"failures_by_folder"`
	Failures  []Failure      `json:"failures"`
}

// FolderStat counts failures per folder.
type FolderStat struct {
	Folder string `json:"folder"`
	Count  int    `json:"count"`
}

// Failure is one message that did not import cleanly.
type Failure struct {
	MessageID string `json:"message_id"`
	Folder    string `json:"folder"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
}

// Build loads runID, or the latest run when runID is empty.
func Build(ctx context.Context, store Store, runID string) (Report, error) {
	var (
		run ledger.Run
		err error
	)
	if runID == "" {
		run, err = store.LatestRun(ctx)
	} else {
		run, err = store.GetRun(ctx, runID)
	}
	if err != nil {
		return Report{}, err
	}

	counts, err := store.Counts(ctx, run.ID)
	if err != nil {
		return Report{}, err
	}
	entries, err := store.Failed(ctx, run.ID, FailureStatuses...)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		RunID:     run.ID,
		Mailbox:   run.Mailbox,
		Account:   run.Account,
		DryRun:    run.DryRun,
		State:     run.State,
		Error:     run.Error,
		StartedAt: run.StartedAt,
		Counts:    counts,
	}
	if run.FinishedAt.Valid {
		rep.Duration = run.FinishedAt.Time.Sub(run.StartedAt)
	}
	for _, n := range counts {
		rep.Total += n
	}
	rep.Failures = make([]Failure, 0, len(entries))
	for _, e := range entries {
		rep.Failures = append(rep.Failures, Failure{
			MessageID: e.MessageID,
			Folder:    e.Folder,
			Status:    e.Status,
			Attempts:  e.Attempts,
			Error:     e.Error,
		})
	}
	rep.ByFolder = rankFolders(entries)
	return rep, nil
}

// PrintHuman writes a plain-text rendering of rep to w.
func PrintHuman(rep Report, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	var builder strings.Builder
	mode := ""
	if rep.DryRun {
		mode = ", dry run"
	}
	fmt.Fprintf(&builder, "run %s: %s (%s, %d messages%s)\n", rep.RunID, rep.State, rep.Mailbox, rep.Total, mode)
	if rep.Error != "" {
		fmt.Fprintf(&builder, "  error: %s\n", rep.Error)
	}
	if len(rep.Counts) > 0 {
		builder.WriteString("\nOutcomes:\n")
		statuses := make([]string, 0, len(rep.Counts))
		for s := range rep.Counts {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Fprintf(&builder, "  %-14s %6d\n", s, rep.Counts[s])
		}
	}
	if len(rep.ByFolder) > 0 {
		builder.WriteString("\nFailures by folder:\n")
		for _, f := range rep.ByFolder {
			fmt.Fprintf(&builder, "  %-30s %4d\n", f.Folder, f.Count)
		}
	}
	if len(rep.Failures) > 0 {
		builder.WriteString("\nFailed messages:\n")
		for _, f := range rep.Failures {
			fmt.Fprintf(&builder, "  %-12s %s [%s] %s\n",
				f.Status, f.MessageID, f.Folder, truncate(f.Error, errorDisplayLimit))
		}
	}
	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write human report: %w", err)
	}
	return nil
}

// WriteJSON writes rep to a path relative to the working directory.
func WriteJSON(rep Report, path string) error {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return fmt.Errorf("path must not be empty")
	}
	clean = filepath.Clean(clean)
	if filepath.IsAbs(clean) {
		return fmt.Errorf("output path must be relative, got %s", clean)
	}
	if strings.HasPrefix(clean, "..") {
		return fmt.Errorf("output path %s escapes working directory", clean)
	}
	f, err := os.OpenFile(clean, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304
	if err != nil {
		return fmt.Errorf("create %s: %w", clean, err)
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

func rankFolders(entries []ledger.Entry) []FolderStat {
	counts := map[string]int{}
	for _, e := range entries {
		for _, folder := range strings.Split(e.Folder, ",") {
			if folder == "" {
				folder = "(none)"
			}
			counts[folder]++
		}
	}
	out := make([]FolderStat, 0, len(counts))
	for folder, n := range counts {
		out = append(out, FolderStat{Folder: folder, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Folder < out[j].Folder
		}
		return out[i].Count > out[j].Count
	})
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
