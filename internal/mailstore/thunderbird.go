package mailstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/textproto"
)

// X-Mozilla-Status bits.
const (
	statusRead   = 0x0001
	statusMarked = 0x0004
)

var ignoredExt = map[string]bool{
	".msf":    true,
	".dat":    true,
	".html":   true,
	".json":   true,
	".sqlite": true,
	".log":    true,
}

type folderFile struct {
	path string
	name string
}

// Thunderbird reads a Thunderbird profile's local mail directory: each
// folder is an mbox file, subfolders live in a sibling "<name>.sbd"
// directory, and per-folder state is in X-Mozilla-Status headers.
type Thunderbird struct {
	Logger *slog.Logger

	folders []folderFile
	next    int
	file    *os.File
	reader  *mbox.Reader
	current folderFile
	index   int
}

// OpenThunderbird discovers the folders under root. root may also be a
// single mbox file.
func OpenThunderbird(root string, logger *slog.Logger) (*Thunderbird, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}
	t := &Thunderbird{Logger: logger}
	if !info.IsDir() {
		t.folders = []folderFile{{path: root, name: filepath.Base(root)}}
		return t, nil
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || strings.Contains(name, "@") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || ignoredExt[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		ok, err := looksLikeMbox(path)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug("skipping non-mbox file", "path", path)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		t.folders = append(t.folders, folderFile{path: path, name: FolderName(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan mailbox %s: %w", root, err)
	}
	return t, nil
}

// FolderName turns a path relative to the store root into a folder name:
// "Archives.sbd/2019" becomes "Archives/2019".
func FolderName(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, ".sbd")
	}
	return strings.Join(parts, "/")
}

// Folders lists the discovered folder names in read order.
func (t *Thunderbird) Folders() []string {
	out := make([]string, 0, len(t.folders))
	for _, f := range t.folders {
		out = append(out, f.name)
	}
	return out
}

// Next returns the next message across all folders.
func (t *Thunderbird) Next() (*Message, error) {
	for {
		if t.reader == nil {
			if t.next >= len(t.folders) {
				return nil, io.EOF
			}
			if err := t.openFolder(t.folders[t.next]); err != nil {
				return nil, err
			}
			t.next++
		}
		mr, err := t.reader.NextMessage()
		if errors.Is(err, io.EOF) {
			t.closeFolder()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read mbox %s: %w", t.current.path, err)
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			return nil, fmt.Errorf("read message %d in %s: %w", t.index, t.current.path, err)
		}
		t.index++
		msg, err := parseMessage(raw, t.current, t.index)
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// Close releases the folder currently being read.
func (t *Thunderbird) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file, t.reader = nil, nil
	return err
}

func (t *Thunderbird) openFolder(f folderFile) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open folder %s: %w", f.name, err)
	}
	t.file = file
	t.reader = mbox.NewReader(file)
	t.current = f
	t.index = 0
	t.Logger.Debug("reading folder", "folder", f.name, "path", f.path)
	return nil
}

func (t *Thunderbird) closeFolder() {
	if err := t.Close(); err != nil {
		t.Logger.Warn("close folder", "folder", t.current.name, "error", err)
	}
}

func parseMessage(raw []byte, f folderFile, index int) (*Message, error) {
	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, &FormatError{Path: f.path, Index: index, Reason: fmt.Sprintf("parse header: %v", err)}
	}
	ids := headerValues(&hdr, "Message-Id")
	if len(ids) != 1 {
		return nil, &FormatError{Path: f.path, Index: index, Reason: fmt.Sprintf("expected 1 Message-ID header, got %d", len(ids))}
	}
	id := strings.Join(strings.Fields(ids[0]), "")
	if id == "" {
		return nil, &FormatError{Path: f.path, Index: index, Reason: "empty Message-ID"}
	}
	status, err := parseStatus(headerValues(&hdr, "X-Mozilla-Status"))
	if err != nil {
		return nil, &FormatError{Path: f.path, Index: index, Reason: err.Error()}
	}
	return &Message{
		ID:      id,
		From:    strings.TrimSpace(hdr.Get("From")),
		Folders: []string{f.name},
		Read:    status&statusRead != 0,
		Starred: status&statusMarked != 0,
		Raw:     raw,
	}, nil
}

func headerValues(hdr *textproto.Header, key string) []string {
	var out []string
	fields := hdr.FieldsByKey(key)
	for fields.Next() {
		out = append(out, fields.Value())
	}
	return out
}

// parseStatus decodes the hex X-Mozilla-Status value. A missing header
// means no flags.
func parseStatus(values []string) (uint64, error) {
	switch len(values) {
	case 0:
		return 0, nil
	case 1:
		v, err := strconv.ParseUint(strings.TrimSpace(values[0]), 16, 32)
		if err != nil {
			return 0, fmt.Errorf("bad X-Mozilla-Status %q: %w", values[0], err)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("expected 1 X-Mozilla-Status header, got %d", len(values))
	}
}

func looksLikeMbox(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, 5)
	n, err := io.ReadFull(f, head)
	if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return true, nil
	}
	return bytes.Equal(head[:n], []byte("From ")), nil
}
