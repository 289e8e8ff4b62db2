package syncer

import (
	"errors"
	"fmt"

	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/mailstore"
)

// ErrLabelsNotFetched is returned when a remote message's labels are read
// before FetchLabels populated them.
var ErrLabelsNotFetched = errors.New("remote labels not fetched")

// RemoteMessage is a Gmail message known to correspond to a local one.
type RemoteMessage struct {
	ID      gmail.MessageID
	labels  []gmail.LabelID
	fetched bool
}

// Labels returns the label ids fetched earlier in this pass.
func (r *RemoteMessage) Labels() ([]gmail.LabelID, error) {
	if !r.fetched {
		return nil, fmt.Errorf("message %s: %w", r.ID, ErrLabelsNotFetched)
	}
	return r.labels, nil
}

// Fetched reports whether Labels is usable.
func (r *RemoteMessage) Fetched() bool { return r.fetched }

func (r *RemoteMessage) setLabels(ids []gmail.LabelID) {
	r.labels = append([]gmail.LabelID(nil), ids...)
	r.fetched = true
}

// MatchTable maps local messages to the remote messages carrying the same
// Message-ID. Locals iterate in insertion order; one remote id always maps
// to the same *RemoteMessage.
type MatchTable struct {
	order   []*mailstore.Message
	matches map[*mailstore.Message][]*RemoteMessage
	remotes map[gmail.MessageID]*RemoteMessage
}

func NewMatchTable() *MatchTable {
	return &MatchTable{
		matches: map[*mailstore.Message][]*RemoteMessage{},
		remotes: map[gmail.MessageID]*RemoteMessage{},
	}
}

// Add records that local exists remotely as id and returns the shared
// RemoteMessage for id.
func (t *MatchTable) Add(local *mailstore.Message, id gmail.MessageID) *RemoteMessage {
	remote, ok := t.remotes[id]
	if !ok {
		remote = &RemoteMessage{ID: id}
		t.remotes[id] = remote
	}
	t.attach(local, remote)
	return remote
}

func (t *MatchTable) attach(local *mailstore.Message, remote *RemoteMessage) {
	existing, seen := t.matches[local]
	if !seen {
		t.order = append(t.order, local)
	}
	for _, r := range existing {
		if r == remote {
			return
		}
	}
	t.matches[local] = append(existing, remote)
}

// Get returns the remotes matched to local.
func (t *MatchTable) Get(local *mailstore.Message) []*RemoteMessage {
	return t.matches[local]
}

// Has reports whether local has at least one remote counterpart.
func (t *MatchTable) Has(local *mailstore.Message) bool {
	return len(t.matches[local]) > 0
}

// Locals lists matched local messages in insertion order.
func (t *MatchTable) Locals() []*mailstore.Message { return t.order }

// Remotes lists every distinct remote message in the table.
func (t *MatchTable) Remotes() []*RemoteMessage {
	out := make([]*RemoteMessage, 0, len(t.remotes))
	seen := map[*RemoteMessage]bool{}
	for _, local := range t.order {
		for _, r := range t.matches[local] {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}

// Len is the number of matched local messages.
func (t *MatchTable) Len() int { return len(t.order) }

func remoteIDs(rs []*RemoteMessage) []gmail.MessageID {
	out := make([]gmail.MessageID, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
