// Package transcript records and reads session exchange transcripts.
//
// Each session writes one JSONL file: one JSON object per line, each
// describing a single message in an exchange. The package provides an
// append-only Writer for the session's serialized exchange path, plus a
// Reader that supports bulk reads and real-time tailing of files still
// being written.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Roles recorded in transcript entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one transcript line.
type Entry struct {
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
}

// Writer appends entries to a session transcript file.
//
// Writes are serialized internally, but the expected caller is a single
// session's exchange path, which is already serialized.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewWriter opens (creating if needed) a transcript file for appending.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	return &Writer{file: file, path: path}, nil
}

// Path returns the file being written.
func (w *Writer) Path() string {
	return w.path
}

// Append writes one entry as a JSON line.
func (w *Writer) Append(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("transcript writer closed")
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	return nil
}

// Close closes the underlying file. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ParseEntry parses one transcript line.
func ParseEntry(line []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("parse transcript entry: %w", err)
	}
	return &e, nil
}

// ReadFile reads all entries from a transcript file.
// Malformed lines are skipped.
func ReadFile(path string) ([]Entry, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// FindFiles returns all transcript files under a directory.
func FindFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() && strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk transcript dir: %w", err)
	}

	return files, nil
}
