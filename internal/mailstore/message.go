// Package mailstore reads messages out of a local mail store.
package mailstore

import (
	"fmt"
	"io"
)

// Message is one local message. It is never modified after the source
// yields it.
type Message struct {
	// ID is the RFC 822 Message-ID header value, angle brackets included.
	ID      string
	From    string
	Folders []string
	Read    bool
	Starred bool
	Raw     []byte
}

// Unread is the inverse of Read.
func (m *Message) Unread() bool { return !m.Read }

// Source yields messages once; Next returns io.EOF when exhausted.
type Source interface {
	Next() (*Message, error)
	Close() error
}

// FormatError reports a message whose headers violate what the importer
// needs. It is fatal for the run.
type FormatError struct {
	Path   string
	Index  int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: message %d: %s", e.Path, e.Index, e.Reason)
}

// SliceSource yields a fixed list of messages.
type SliceSource struct {
	msgs []*Message
	pos  int
}

func NewSliceSource(msgs ...*Message) *SliceSource {
	return &SliceSource{msgs: msgs}
}

func (s *SliceSource) Next() (*Message, error) {
	if s.pos >= len(s.msgs) {
		return nil, io.EOF
	}
	m := s.msgs[s.pos]
	s.pos++
	return m, nil
}

func (s *SliceSource) Close() error { return nil }

var (
	_ Source = (*SliceSource)(nil)
	_ Source = (*Thunderbird)(nil)
)
