package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndCount(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.StartRun(ctx, Run{ID: "run-1", Mailbox: "/mail"}))
	require.NoError(t, s.Record(ctx, []Entry{
		{RunID: "run-1", MessageID: "<a@x>", Folder: "Inbox", Status: "uploaded", RemoteIDs: "r1"},
		{RunID: "run-1", MessageID: "<b@x>", Folder: "Inbox", Status: "matched", RemoteIDs: "r2"},
		{RunID: "run-1", MessageID: "<c@x>", Folder: "Spam", Status: "skipped", Error: "message rejected", Attempts: 2},
	}))

	counts, err := s.Counts(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"uploaded": 1, "matched": 1, "skipped": 1}, counts)

	failed, err := s.Failed(ctx, "run-1", "skipped", "label_failed")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "<c@x>", failed[0].MessageID)
	require.Equal(t, 2, failed[0].Attempts)
	require.Equal(t, "message rejected", failed[0].Error)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.LatestRun(ctx)
	require.Error(t, err)

	require.NoError(t, s.StartRun(ctx, Run{ID: "run-1", Mailbox: "/mail", DryRun: true}))
	require.NoError(t, s.FinishRun(ctx, "run-1", errors.New("boom")))

	run, err := s.LatestRun(ctx)
	require.NoError(t, err)
	require.Equal(t, "run-1", run.ID)
	require.Equal(t, "failed", run.State)
	require.Equal(t, "boom", run.Error)
	require.Equal(t, "me", run.Account)
	require.True(t, run.DryRun)
	require.True(t, run.FinishedAt.Valid)
}

func TestRecordRequiresRun(t *testing.T) {
	s := openTemp(t)
	err := s.Record(context.Background(), []Entry{{RunID: "missing", MessageID: "<a@x>", Status: "uploaded"}})
	require.Error(t, err)
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.StartRun(context.Background(), Run{ID: "run-1", Mailbox: "/mail"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "running", run.State)
}
