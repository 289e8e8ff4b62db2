// Package syncer brings batches of local messages into Gmail: it finds the
// ones already there, uploads the rest, and makes their labels match the
// local folders and flags.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/mail-importer/internal/batch"
	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/labels"
	"github.com/google/mail-importer/internal/mailstore"
	"github.com/google/mail-importer/internal/rate"
)

// ErrNotConnected means Connect was not called before syncing.
var ErrNotConnected = errors.New("syncer not connected: call Connect first")

// Status is the per-message result of a sync pass.
type Status string

const (
	StatusMatched     Status = "matched"
	StatusUploaded    Status = "uploaded"
	StatusRejected    Status = "rejected"
	StatusLabelFailed Status = "label_failed"
	StatusWouldUpload Status = "would_upload"
)

// Outcome records what happened to one local message.
type Outcome struct {
	Message   *mailstore.Message
	Status    Status
	RemoteIDs []gmail.MessageID
	Err       error
}

// Result summarizes a Sync call. Outcomes follow the input order.
type Result struct {
	Outcomes []*Outcome
	Modified int
	Skipped  int
}

// Rejected returns the outcomes whose upload Gmail refused.
func (r *Result) Rejected() []*Outcome {
	var out []*Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusRejected {
			out = append(out, o)
		}
	}
	return out
}

// Count returns how many outcomes have status.
func (r *Result) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Syncer owns the label directory for one run.
type Syncer struct {
	Client   gmail.Client
	Executor *batch.Executor
	Limiter  rate.Limiter
	Logger   *slog.Logger
	DryRun   bool

	dir *labels.Directory
}

// New constructs a Syncer with sane defaults.
func New(client gmail.Client, executor *batch.Executor, limiter rate.Limiter, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if executor == nil {
		executor = batch.NewExecutor(limiter, logger)
	}
	return &Syncer{
		Client:   client,
		Executor: executor,
		Limiter:  rate.OrUnlimited(limiter),
		Logger:   logger,
	}
}

// Connect loads the label directory. It must succeed before any other
// method is used.
func (s *Syncer) Connect(ctx context.Context) error {
	dir, err := labels.Load(ctx, s.Client)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.dir = dir
	s.Logger.Info("loaded labels", "count", dir.Len())
	return nil
}

// Labels exposes the run's label directory, nil before Connect.
func (s *Syncer) Labels() *labels.Directory { return s.dir }

// Sync runs one pass over msgs: match, upload what is missing, fetch
// labels, reconcile and apply. Rejected uploads are reported in the result
// for the caller's error strategy; any other upload failure is returned.
func (s *Syncer) Sync(ctx context.Context, msgs []*mailstore.Message) (*Result, error) {
	if s.dir == nil {
		return nil, ErrNotConnected
	}
	table, err := s.Match(ctx, msgs)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	byLocal := make(map[*mailstore.Message]*Outcome, len(msgs))
	uploaded := map[string]*RemoteMessage{}
	for _, m := range msgs {
		out := &Outcome{Message: m}
		res.Outcomes = append(res.Outcomes, out)
		byLocal[m] = out

		if table.Has(m) {
			out.Status = StatusMatched
			out.RemoteIDs = remoteIDs(table.Get(m))
			continue
		}
		if remote, ok := uploaded[m.ID]; ok {
			table.attach(m, remote)
			out.Status = StatusMatched
			out.RemoteIDs = []gmail.MessageID{remote.ID}
			s.Logger.Debug("duplicate message in batch", "message_id", m.ID, "remote_id", remote.ID)
			continue
		}
		if s.DryRun {
			out.Status = StatusWouldUpload
			s.Logger.Info("dry-run: would upload", "message_id", m.ID, "folders", m.Folders)
			continue
		}
		remote, err := s.Upload(ctx, m)
		if gmail.IsRejected(err) {
			out.Status = StatusRejected
			out.Err = err
			s.Logger.Warn("upload rejected", "message_id", m.ID, "from", m.From, "error", err)
			continue
		}
		if err != nil {
			return res, err
		}
		table.attach(m, remote)
		uploaded[m.ID] = remote
		out.Status = StatusUploaded
		out.RemoteIDs = []gmail.MessageID{remote.ID}
	}
	if s.DryRun {
		return res, nil
	}

	if err := s.FetchLabels(ctx, table); err != nil {
		return res, err
	}
	if err := s.createFolderLabels(ctx, table.Locals()); err != nil {
		return res, err
	}

	changes := map[*RemoteMessage]Change{}
	var order []*RemoteMessage
	owners := map[*RemoteMessage][]*Outcome{}
	for _, local := range table.Locals() {
		for _, remote := range table.Get(local) {
			if !remote.Fetched() {
				byLocal[local].Status = StatusLabelFailed
				byLocal[local].Err = fmt.Errorf("message %s: %w", remote.ID, ErrLabelsNotFetched)
				continue
			}
			change, err := s.Reconcile(ctx, local, remote)
			if err != nil {
				return res, err
			}
			if prev, ok := changes[remote]; ok {
				change = prev.Merge(change)
			} else {
				order = append(order, remote)
			}
			changes[remote] = change
			owners[remote] = append(owners[remote], byLocal[local])
		}
	}

	var pending []LabelUpdate
	for _, remote := range order {
		change := changes[remote]
		current, _ := remote.Labels()
		if change.NoOp(current) {
			res.Skipped++
			s.Logger.Debug("labels already in sync", "remote_id", remote.ID)
			continue
		}
		pending = append(pending, LabelUpdate{Remote: remote, Change: change, owners: owners[remote]})
	}
	modified, err := s.Apply(ctx, pending)
	res.Modified = modified
	if err != nil {
		return res, err
	}
	return res, nil
}
