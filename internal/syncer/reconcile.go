package syncer

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/mailstore"
)

const draftsLabel = "Import/Drafts"

var systemLabels = map[string]bool{
	string(gmail.LabelInbox):   true,
	string(gmail.LabelSpam):    true,
	string(gmail.LabelTrash):   true,
	string(gmail.LabelStarred): true,
	string(gmail.LabelUnread):  true,
}

// NormalizeFolder maps local folder names onto Gmail label names. Only
// inbox, drafts, trash and spam are special; case is ignored for them.
func NormalizeFolder(folder string) string {
	switch strings.ToUpper(folder) {
	case "INBOX":
		return string(gmail.LabelInbox)
	case "DRAFTS":
		return draftsLabel
	case "TRASH":
		return string(gmail.LabelTrash)
	case "SPAM":
		return string(gmail.LabelSpam)
	}
	return folder
}

// Change is a label modification for one remote message.
type Change struct {
	Add    []gmail.LabelID
	Remove []gmail.LabelID
}

// NoOp reports whether applying c to current would change nothing.
func (c Change) NoOp(current []gmail.LabelID) bool {
	for _, id := range c.Add {
		if !slices.Contains(current, id) {
			return false
		}
	}
	for _, id := range c.Remove {
		if slices.Contains(current, id) {
			return false
		}
	}
	return true
}

// Merge combines c and o for a remote shared by several local copies. A
// label added by either side is never removed.
func (c Change) Merge(o Change) Change {
	add := newNameSet()
	for _, id := range append(slices.Clone(c.Add), o.Add...) {
		add.put(string(id))
	}
	remove := newNameSet()
	for _, id := range append(slices.Clone(c.Remove), o.Remove...) {
		if !add.has(string(id)) {
			remove.put(string(id))
		}
	}
	return Change{Add: toLabelIDs(add.sorted()), Remove: toLabelIDs(remove.sorted())}
}

func (c Change) ops() gmail.ModifyOps {
	return gmail.ModifyOps{AddLabels: c.Add, RemoveLabels: c.Remove}
}

// LabelNames computes the add and remove label names for local.
func LabelNames(local *mailstore.Message) (add, remove []string) {
	toAdd := newNameSet()
	for _, folder := range local.Folders {
		toAdd.put(NormalizeFolder(folder))
	}

	toRemove := newNameSet()
	for _, name := range []gmail.LabelID{gmail.LabelSpam, gmail.LabelTrash} {
		if !toAdd.has(string(name)) {
			toRemove.put(string(name))
		}
	}

	if local.Starred {
		toAdd.put(string(gmail.LabelStarred))
		toRemove.del(string(gmail.LabelStarred))
	}

	if local.Unread() {
		toAdd.put(string(gmail.LabelUnread))
		toRemove.del(string(gmail.LabelUnread))
	} else {
		toRemove.put(string(gmail.LabelUnread))
		toAdd.del(string(gmail.LabelUnread))
	}

	if !toAdd.has(string(gmail.LabelInbox)) {
		toRemove.put(string(gmail.LabelInbox))
	}
	return toAdd.sorted(), toRemove.sorted()
}

// Reconcile computes the label ids to add to and remove from remote so it
// reflects local's folders and flags. Folder labels missing from the
// directory are created.
func (s *Syncer) Reconcile(ctx context.Context, local *mailstore.Message, remote *RemoteMessage) (Change, error) {
	if s.dir == nil {
		return Change{}, ErrNotConnected
	}
	if !remote.Fetched() {
		return Change{}, fmt.Errorf("reconcile %s: message %s: %w", local.ID, remote.ID, ErrLabelsNotFetched)
	}
	addNames, removeNames := LabelNames(local)
	for _, name := range addNames {
		if systemLabels[name] {
			continue
		}
		if _, err := s.dir.Ensure(ctx, s.Client, name); err != nil {
			return Change{}, fmt.Errorf("reconcile %s: %w", local.ID, err)
		}
	}
	add, err := s.dir.Resolve(addNames)
	if err != nil {
		return Change{}, fmt.Errorf("reconcile %s: %w", local.ID, err)
	}
	remove, err := s.dir.Resolve(removeNames)
	if err != nil {
		return Change{}, fmt.Errorf("reconcile %s: %w", local.ID, err)
	}
	slices.Sort(add)
	slices.Sort(remove)
	return Change{Add: add, Remove: remove}, nil
}

type nameSet map[string]struct{}

func newNameSet() nameSet { return nameSet{} }

func (s nameSet) put(name string)      { s[name] = struct{}{} }
func (s nameSet) del(name string)      { delete(s, name) }
func (s nameSet) has(name string) bool { _, ok := s[name]; return ok }

func (s nameSet) sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func toLabelIDs(names []string) []gmail.LabelID {
	out := make([]gmail.LabelID, 0, len(names))
	for _, n := range names {
		out = append(out, gmail.LabelID(n))
	}
	return out
}
