package syncer

import (
	"context"
	"fmt"

	"github.com/google/mail-importer/internal/batch"
	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/mailstore"
)

// Match searches Gmail for each message's Message-ID in one batch. A failed
// search is logged and leaves the message unmatched.
func (s *Syncer) Match(ctx context.Context, msgs []*mailstore.Message) (*MatchTable, error) {
	if s.dir == nil {
		return nil, ErrNotConnected
	}
	table := NewMatchTable()

	byID := map[string][]*mailstore.Message{}
	var ids []string
	for _, m := range msgs {
		if _, seen := byID[m.ID]; !seen {
			ids = append(ids, m.ID)
		}
		byID[m.ID] = append(byID[m.ID], m)
	}

	b := batch.New("match")
	for _, id := range ids {
		locals := byID[id]
		batch.Queue(b, "search "+id,
			func(ctx context.Context) ([]gmail.MessageID, error) {
				return s.Client.SearchByMessageID(ctx, id)
			},
			func(hits []gmail.MessageID) {
				for _, local := range locals {
					for _, hit := range hits {
						table.Add(local, hit)
					}
				}
				if len(hits) > 0 {
					s.Logger.Debug("matched", "message_id", id, "remote_ids", hits)
				}
			},
			func(err error) {
				s.Logger.Error("search failed", "message_id", id, "error", err)
			},
		)
	}
	stats, err := s.Executor.Execute(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	s.Logger.Debug("match done", "messages", len(msgs), "matched", table.Len(), "rounds", stats.Rounds, "requeued", stats.Requeued)
	return table, nil
}
