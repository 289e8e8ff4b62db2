package syncer

import (
	"context"
	"fmt"

	"github.com/google/mail-importer/internal/batch"
	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/mailstore"
)

// FetchLabels loads the current label ids of every remote in table. A
// failed fetch is logged and leaves that remote unfetched.
func (s *Syncer) FetchLabels(ctx context.Context, table *MatchTable) error {
	if s.dir == nil {
		return ErrNotConnected
	}
	b := batch.New("fetch-labels")
	for _, remote := range table.Remotes() {
		batch.Queue(b, "get "+string(remote.ID),
			func(ctx context.Context) ([]gmail.LabelID, error) {
				return s.Client.GetLabels(ctx, remote.ID)
			},
			remote.setLabels,
			func(err error) {
				s.Logger.Error("fetch labels failed", "remote_id", remote.ID, "error", err)
			},
		)
	}
	if _, err := s.Executor.Execute(ctx, b); err != nil {
		return fmt.Errorf("fetch labels: %w", err)
	}
	return nil
}

// createFolderLabels creates, in one batch, the folder labels the
// directory does not know yet. Failures are logged; Reconcile retries the
// creation and fails the run if it still cannot resolve the name.
func (s *Syncer) createFolderLabels(ctx context.Context, locals []*mailstore.Message) error {
	var missing []string
	seen := map[string]bool{}
	for _, m := range locals {
		for _, folder := range m.Folders {
			name := NormalizeFolder(folder)
			if systemLabels[name] || seen[name] {
				continue
			}
			seen[name] = true
			if _, ok := s.dir.IDForName(name); !ok {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	b := batch.New("create-labels")
	for _, name := range missing {
		batch.Queue(b, "create "+name,
			func(ctx context.Context) (gmail.Label, error) {
				return s.Client.CreateLabel(ctx, name)
			},
			func(l gmail.Label) {
				if l.Name == "" {
					l.Name = name
				}
				s.dir.Record(l)
				s.Logger.Info("created label", "label", name, "label_id", l.ID)
			},
			func(err error) {
				s.Logger.Error("create label failed", "label", name, "error", err)
			},
		)
	}
	if _, err := s.Executor.Execute(ctx, b); err != nil {
		return fmt.Errorf("create labels: %w", err)
	}
	return nil
}

// LabelUpdate is a modification waiting to be sent.
type LabelUpdate struct {
	Remote *RemoteMessage
	Change Change
	owners []*Outcome
}

// Apply sends one modify call per pending change in a single batch and
// returns how many succeeded. Failures are logged and marked on the owning
// outcomes.
func (s *Syncer) Apply(ctx context.Context, pending []LabelUpdate) (int, error) {
	if s.dir == nil {
		return 0, ErrNotConnected
	}
	if len(pending) == 0 {
		return 0, nil
	}
	b := batch.New("modify")
	for _, p := range pending {
		batch.Queue(b, "modify "+string(p.Remote.ID),
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.Client.Modify(ctx, p.Remote.ID, p.Change.ops())
			},
			func(struct{}) {
				s.Logger.Info("updated labels",
					"remote_id", p.Remote.ID,
					"added", s.dir.Names(p.Change.Add),
					"removed", s.dir.Names(p.Change.Remove))
			},
			func(err error) {
				s.Logger.Error("update labels failed", "remote_id", p.Remote.ID, "error", err)
				for _, o := range p.owners {
					o.Status = StatusLabelFailed
					o.Err = err
				}
			},
		)
	}
	stats, err := s.Executor.Execute(ctx, b)
	if err != nil {
		return stats.Succeeded, fmt.Errorf("apply labels: %w", err)
	}
	return stats.Succeeded, nil
}
