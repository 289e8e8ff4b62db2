// Package importer drives a local mail source through the syncer in
// batches.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/ledger"
	"github.com/google/mail-importer/internal/mailstore"
	"github.com/google/mail-importer/internal/syncer"
)

// DefaultBatchSize matches Gmail's batch ceiling.
const DefaultBatchSize = 100

// Additional ledger statuses beyond the syncer's.
const (
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Syncer is the part of *syncer.Syncer the loop needs.
type Syncer interface {
	Connect(ctx context.Context) error
	Sync(ctx context.Context, msgs []*mailstore.Message) (*syncer.Result, error)
}

// Recorder persists per-message outcomes.
type Recorder interface {
	Record(ctx context.Context, entries []ledger.Entry) error
}

// Options controls one import run.
type Options struct {
	BatchSize int
	// MaxMessages caps how many messages are read; zero means all.
	MaxMessages int
	// MaxRetries caps Retry decisions per message.
	MaxRetries int
}

// Summary totals a run.
type Summary struct {
	RunID       string
	Read        int
	Batches     int
	Uploaded    int
	Matched     int
	WouldUpload int
	Skipped     int
	Retried     int
	LabelFailed int
	Elapsed     time.Duration
}

// ErrStopped wraps the failure the strategy chose to stop on.
var ErrStopped = errors.New("import stopped by error strategy")

// Service runs imports.
type Service struct {
	Syncer   Syncer
	Strategy Strategy
	Recorder Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
	RunID    string
}

// NewService constructs a Service with sane defaults.
func NewService(s Syncer, strategy Strategy, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if strategy == nil {
		strategy = SkipRejected
	}
	return &Service{
		Syncer:   s,
		Strategy: strategy,
		Recorder: recorder,
		Logger:   logger,
		Clock:    time.Now,
		RunID:    uuid.NewString(),
	}
}

// Run connects, then reads src in batches until it is exhausted or
// MaxMessages have been read. Messages the strategy retries are carried
// into the next batch.
func (s *Service) Run(ctx context.Context, src mailstore.Source, opts Options) (Summary, error) {
	start := s.Clock()
	sum := Summary{RunID: s.RunID}
	log := s.Logger.With("run_id", s.RunID)

	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	if err := s.Syncer.Connect(ctx); err != nil {
		return sum, err
	}

	attempts := map[*mailstore.Message]int{}
	var carry []*mailstore.Message
	exhausted := false
	for {
		msgs := carry
		carry = nil
		for !exhausted && len(msgs) < size && (opts.MaxMessages <= 0 || sum.Read < opts.MaxMessages) {
			m, err := src.Next()
			if errors.Is(err, io.EOF) {
				exhausted = true
				break
			}
			if err != nil {
				return s.finish(sum, start), fmt.Errorf("read local message: %w", err)
			}
			log.Debug("read message", "message_id", m.ID, "folders", m.Folders)
			msgs = append(msgs, m)
			sum.Read++
		}
		if len(msgs) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return s.finish(sum, start), err
		}

		sum.Batches++
		for _, m := range msgs {
			attempts[m]++
		}
		res, err := s.Syncer.Sync(ctx, msgs)
		if err != nil {
			return s.finish(sum, start), fmt.Errorf("sync batch %d: %w", sum.Batches, err)
		}

		entries := make([]ledger.Entry, 0, len(res.Outcomes))
		var stopErr error
		for _, o := range res.Outcomes {
			entry := s.entry(o, attempts[o.Message])
			switch o.Status {
			case syncer.StatusRejected:
				switch decision := s.decide(o, attempts[o.Message], opts.MaxRetries, log); decision {
				case Retry:
					sum.Retried++
					carry = append(carry, o.Message)
					continue
				case Skip:
					sum.Skipped++
					entry.Status = StatusSkipped
				default:
					entry.Status = StatusFailed
					if stopErr == nil {
						stopErr = fmt.Errorf("%w: %s: %w", ErrStopped, o.Message.ID, o.Err)
					}
				}
			case syncer.StatusUploaded:
				sum.Uploaded++
			case syncer.StatusMatched:
				sum.Matched++
			case syncer.StatusWouldUpload:
				sum.WouldUpload++
			case syncer.StatusLabelFailed:
				sum.LabelFailed++
			}
			entries = append(entries, entry)
		}
		if err := s.record(ctx, entries); err != nil {
			return s.finish(sum, start), err
		}
		log.Info("batch done",
			"batch", sum.Batches,
			"messages", len(msgs),
			"uploaded", res.Count(syncer.StatusUploaded),
			"matched", res.Count(syncer.StatusMatched),
			"modified", res.Modified)
		if stopErr != nil {
			return s.finish(sum, start), stopErr
		}
	}

	sum = s.finish(sum, start)
	log.Info("import complete",
		"read", sum.Read,
		"uploaded", sum.Uploaded,
		"matched", sum.Matched,
		"skipped", sum.Skipped,
		"label_failed", sum.LabelFailed,
		"elapsed", sum.Elapsed)
	return sum, nil
}

func (s *Service) decide(o *syncer.Outcome, attempt, maxRetries int, log *slog.Logger) Decision {
	decision := s.Strategy(o.Message, o.Err)
	if decision == Retry && attempt > maxRetries {
		log.Warn("retry limit reached, skipping", "message_id", o.Message.ID, "attempts", attempt)
		decision = Skip
	}
	log.Info("upload failure handled", "message_id", o.Message.ID, "decision", decision, "error", o.Err)
	return decision
}

func (s *Service) entry(o *syncer.Outcome, attempts int) ledger.Entry {
	e := ledger.Entry{
		RunID:     s.RunID,
		MessageID: o.Message.ID,
		Folder:    strings.Join(o.Message.Folders, ","),
		Status:    string(o.Status),
		RemoteIDs: joinIDs(o.RemoteIDs),
		Attempts:  attempts,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

func (s *Service) record(ctx context.Context, entries []ledger.Entry) error {
	if s.Recorder == nil {
		return nil
	}
	if err := s.Recorder.Record(ctx, entries); err != nil {
		return fmt.Errorf("record outcomes: %w", err)
	}
	return nil
}

func (s *Service) finish(sum Summary, start time.Time) Summary {
	sum.Elapsed = s.Clock().Sub(start)
	return sum
}

func joinIDs(ids []gmail.MessageID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, string(id))
	}
	return strings.Join(parts, ",")
}
