package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/google/mail-importer/internal/config"
	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/ledger"
)

const inboxMbox = "From - Mon Jan  1 00:00:00 2024\n" +
	"Message-ID: <m1@example.com>\n" +
	"From: a@example.com\n" +
	"Subject: hello\n" +
	"\n" +
	"body\n"

type stubClient struct {
	mu       sync.Mutex
	imports  int
	modifies []gmail.ModifyOps
}

func (s *stubClient) ListLabels(context.Context) ([]gmail.Label, error) {
	return []gmail.Label{
		{ID: "INBOX", Name: "INBOX"},
		{ID: "SPAM", Name: "SPAM"},
		{ID: "TRASH", Name: "TRASH"},
		{ID: "UNREAD", Name: "UNREAD"},
		{ID: "STARRED", Name: "STARRED"},
	}, nil
}

func (s *stubClient) CreateLabel(_ context.Context, name string) (gmail.Label, error) {
	return gmail.Label{ID: gmail.LabelID("Label_" + name), Name: name}, nil
}

func (s *stubClient) SearchByMessageID(context.Context, string) ([]gmail.MessageID, error) {
	return nil, nil
}

func (s *stubClient) GetLabels(context.Context, gmail.MessageID) ([]gmail.LabelID, error) {
	return nil, nil
}

func (s *stubClient) Import(context.Context, []byte) (gmail.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imports++
	return "r1", nil
}

func (s *stubClient) Modify(_ context.Context, _ gmail.MessageID, ops gmail.ModifyOps) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modifies = append(s.modifies, ops)
	return nil
}

func testApp(t *testing.T) *app {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	v, err := config.New("")
	require.NoError(t, err)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return &app{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func writeMailbox(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Inbox"), []byte(inboxMbox), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Inbox.msf"), []byte("index"), 0o600))
	return dir
}

func TestRunImportUploadsAndRecords(t *testing.T) {
	a := testApp(t)
	cfg := a.cfg
	cfg.Mailbox = writeMailbox(t)
	cfg.Ledger = filepath.Join(t.TempDir(), "state", "ledger.db")
	cfg.RPS = 0

	client := &stubClient{}
	var out bytes.Buffer
	require.NoError(t, a.runImport(context.Background(), cfg, client, &out))

	require.Equal(t, 1, client.imports)
	require.Len(t, client.modifies, 1)
	require.Equal(t, []gmail.LabelID{"INBOX", "UNREAD"}, client.modifies[0].AddLabels)
	require.Equal(t, []gmail.LabelID{"SPAM", "TRASH"}, client.modifies[0].RemoveLabels)
	require.Contains(t, out.String(), "read 1, uploaded 1")

	store, err := ledger.Open(cfg.Ledger)
	require.NoError(t, err)
	defer store.Close()
	run, err := store.LatestRun(context.Background())
	require.NoError(t, err)
	require.Equal(t, "done", run.State)
	counts, err := store.Counts(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"uploaded": 1}, counts)
}

func TestRunImportDryRun(t *testing.T) {
	a := testApp(t)
	cfg := a.cfg
	cfg.Mailbox = writeMailbox(t)
	cfg.Ledger = ""
	cfg.DryRun = true

	client := &stubClient{}
	var out bytes.Buffer
	require.NoError(t, a.runImport(context.Background(), cfg, client, &out))
	require.Zero(t, client.imports)
	require.Empty(t, client.modifies)
	require.Contains(t, out.String(), "would upload 1")
}

func TestRunImportUnknownStrategy(t *testing.T) {
	a := testApp(t)
	cfg := a.cfg
	cfg.Mailbox = writeMailbox(t)
	cfg.ErrorStrategy = "ignore"
	err := a.runImport(context.Background(), cfg, &stubClient{}, io.Discard)
	require.ErrorContains(t, err, "unknown error strategy")
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MAILIMPORTER_USER", "env@example.com")
	t.Setenv("MAILIMPORTER_RPS", "7")

	a := &app{}
	root := newRootCmd(a)
	cmd, _, err := root.Find([]string{"import"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--user", "flag@example.com", "--max-messages", "5", "--dry-run"}))
	require.NoError(t, a.load(cmd.Flags()))

	require.Equal(t, "flag@example.com", a.cfg.User)
	require.Equal(t, 7, a.cfg.RPS)
	require.Equal(t, 5, a.cfg.MaxMessages)
	require.True(t, a.cfg.DryRun)
}

func TestImportRequiresMailbox(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := newRootCmd(&app{})
	root.SetArgs([]string{"import"})
	root.SetOut(io.Discard)
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "mailbox is required")
}

func TestReportCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := ledger.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.StartRun(ctx, ledger.Run{ID: "run-7", Mailbox: "/mail"}))
	require.NoError(t, store.Record(ctx, []ledger.Entry{
		{RunID: "run-7", MessageID: "<a@x>", Folder: "Inbox", Status: "uploaded"},
		{RunID: "run-7", MessageID: "<b@x>", Folder: "Spam", Status: "skipped", Error: "message rejected"},
	}))
	require.NoError(t, store.FinishRun(ctx, "run-7", nil))
	require.NoError(t, store.Close())

	var out bytes.Buffer
	root := newRootCmd(&app{})
	root.SetArgs([]string{"report", "--ledger", path})
	root.SetOut(&out)
	require.NoError(t, root.ExecuteContext(ctx))
	require.Contains(t, out.String(), "run run-7: done")
	require.Contains(t, out.String(), "<b@x> [Spam] message rejected")
}
