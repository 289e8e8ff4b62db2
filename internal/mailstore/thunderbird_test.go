package mailstore

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func mboxEntry(headers ...string) string {
	return "From - Mon Jan  1 00:00:00 2018\n" + strings.Join(headers, "\n") + "\n\nbody\n\n"
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func drain(t *testing.T, src Source) []*Message {
	t.Helper()
	var out []*Message
	for {
		m, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, m)
	}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestThunderbirdWalksFolders(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Inbox"),
		mboxEntry("Message-ID: <m1@example.com>", "From: a@example.com", "X-Mozilla-Status: 0001")+
			mboxEntry("Message-ID: <m2@example.com>", "X-Mozilla-Status: 0005"))
	writeFile(t, filepath.Join(root, "Inbox.msf"), "// mork index")
	writeFile(t, filepath.Join(root, "Archives.sbd", "2019"),
		mboxEntry("Message-ID: <m3@example.com>"))
	writeFile(t, filepath.Join(root, "Archives"), "")
	writeFile(t, filepath.Join(root, "me@imap.example.com", "INBOX"),
		mboxEntry("Message-ID: <skip@example.com>"))
	writeFile(t, filepath.Join(root, "msgFilterRules.dat"), "version=\"9\"")
	writeFile(t, filepath.Join(root, ".DS_Store"), "junk")

	tb, err := OpenThunderbird(root, slogDiscard())
	require.NoError(t, err)
	defer tb.Close()
	require.Equal(t, []string{"Archives", "Archives/2019", "Inbox"}, tb.Folders())

	msgs := drain(t, tb)
	require.Len(t, msgs, 3)

	require.Equal(t, "<m3@example.com>", msgs[0].ID)
	require.Equal(t, []string{"Archives/2019"}, msgs[0].Folders)
	require.True(t, msgs[0].Unread())
	require.False(t, msgs[0].Starred)

	require.Equal(t, "<m1@example.com>", msgs[1].ID)
	require.Equal(t, "a@example.com", msgs[1].From)
	require.Equal(t, []string{"Inbox"}, msgs[1].Folders)
	require.True(t, msgs[1].Read)
	require.False(t, msgs[1].Starred)

	require.Equal(t, "<m2@example.com>", msgs[2].ID)
	require.True(t, msgs[2].Read)
	require.True(t, msgs[2].Starred)
	require.Contains(t, string(msgs[2].Raw), "Message-ID: <m2@example.com>")
}

func TestThunderbirdSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Sent")
	writeFile(t, path, mboxEntry("Message-ID: <s1@example.com>", "X-Mozilla-Status: 0004"))

	tb, err := OpenThunderbird(path, slogDiscard())
	require.NoError(t, err)
	msgs := drain(t, tb)
	require.Len(t, msgs, 1)
	require.Equal(t, []string{"Sent"}, msgs[0].Folders)
	require.True(t, msgs[0].Starred)
	require.True(t, msgs[0].Unread())
}

func TestThunderbirdFormatErrors(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
	}{
		{"missing message id", []string{"Subject: hi"}},
		{"duplicate message id", []string{"Message-ID: <a@x>", "Message-ID: <b@x>"}},
		{"duplicate status", []string{"Message-ID: <a@x>", "X-Mozilla-Status: 0001", "X-Mozilla-Status: 0000"}},
		{"bad status", []string{"Message-ID: <a@x>", "X-Mozilla-Status: zz"}},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "Inbox")
			writeFile(t, path, mboxEntry(tc.headers...))
			tb, err := OpenThunderbird(path, slogDiscard())
			require.NoError(t, err)
			_, err = tb.Next()
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			require.Equal(t, 1, fe.Index)
		})
	}
}

func TestOpenThunderbirdMissing(t *testing.T) {
	_, err := OpenThunderbird(filepath.Join(t.TempDir(), "nope"), slogDiscard())
	require.Error(t, err)
}

func TestFolderName(t *testing.T) {
	require.Equal(t, "Inbox", FolderName("Inbox"))
	require.Equal(t, "Archives/2019/Q1", FolderName(filepath.Join("Archives.sbd", "2019.sbd", "Q1")))
}

func TestSliceSource(t *testing.T) {
	src := NewSliceSource(&Message{ID: "<a>"}, &Message{ID: "<b>"})
	msgs := drain(t, src)
	require.Len(t, msgs, 2)
	require.NoError(t, src.Close())
}
