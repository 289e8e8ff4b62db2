// Package labels caches the account's label names and ids for one run.
package labels

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/mail-importer/internal/gmail"
)

var (
	// ErrNoLabels means the account returned zero labels, which only happens
	// when something is wrong with the connection or the account.
	ErrNoLabels = errors.New("account has no labels")
	// ErrUnknownLabel is returned when a name has no id in the directory.
	ErrUnknownLabel = errors.New("unknown label")
)

// Lister fetches every label in the account.
type Lister interface {
	ListLabels(ctx context.Context) ([]gmail.Label, error)
}

// Creator creates a user label.
type Creator interface {
	CreateLabel(ctx context.Context, name string) (gmail.Label, error)
}

// Directory is a name/id snapshot. It is not safe for concurrent use.
type Directory struct {
	byName map[string]gmail.LabelID
	byID   map[gmail.LabelID]string
}

// Load fetches all labels in a single call.
func Load(ctx context.Context, client Lister) (*Directory, error) {
	all, err := client.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNoLabels
	}
	d := &Directory{
		byName: make(map[string]gmail.LabelID, len(all)),
		byID:   make(map[gmail.LabelID]string, len(all)),
	}
	for _, l := range all {
		d.Record(l)
	}
	return d, nil
}

// Len reports how many labels are known.
func (d *Directory) Len() int { return len(d.byName) }

// IDForName returns the id for an exact label name.
func (d *Directory) IDForName(name string) (gmail.LabelID, bool) {
	id, ok := d.byName[name]
	return id, ok
}

// NameForID returns the label name, or the id itself when unknown.
func (d *Directory) NameForID(id gmail.LabelID) string {
	if name, ok := d.byID[id]; ok {
		return name
	}
	return string(id)
}

// Names maps ids to names for logging.
func (d *Directory) Names(ids []gmail.LabelID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.NameForID(id))
	}
	return out
}

// Record adds or replaces a label, typically right after creating it.
func (d *Directory) Record(l gmail.Label) {
	if old, ok := d.byName[l.Name]; ok && old != l.ID {
		delete(d.byID, old)
	}
	d.byName[l.Name] = l.ID
	d.byID[l.ID] = l.Name
}

// Ensure returns the id for name, creating and recording the label when the
// directory has not seen it.
func (d *Directory) Ensure(ctx context.Context, client Creator, name string) (gmail.LabelID, error) {
	if id, ok := d.byName[name]; ok {
		return id, nil
	}
	created, err := client.CreateLabel(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create label %q: %w", name, err)
	}
	if created.Name == "" {
		created.Name = name
	}
	d.Record(created)
	return created.ID, nil
}

// Resolve translates names to ids. Any name missing from the directory is
// an error wrapping ErrUnknownLabel.
func (d *Directory) Resolve(names []string) ([]gmail.LabelID, error) {
	out := make([]gmail.LabelID, 0, len(names))
	for _, name := range names {
		id, ok := d.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, name)
		}
		out = append(out, id)
	}
	return out, nil
}
