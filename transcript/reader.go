package transcript

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reader reads transcript JSONL files.
type Reader struct {
	path string
	file *os.File
}

// NewReader creates a reader for the given transcript file.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript file: %w", err)
	}
	return &Reader{path: path, file: file}, nil
}

// Path returns the file path being read.
func (r *Reader) Path() string {
	return r.path
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadAll reads all entries from the transcript file.
func (r *Reader) ReadAll() ([]Entry, error) {
	// Seek to beginning
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(r.file)
	// Increase buffer for large responses
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 10*1024*1024) // 10MB max

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		e, err := ParseEntry(line)
		if err != nil {
			// Skip malformed lines
			continue
		}
		entries = append(entries, *e)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}

	return entries, nil
}

// ReadFrom reads all entries starting from a specific byte offset.
// Returns the new offset after reading.
func (r *Reader) ReadFrom(offset int64) ([]Entry, int64, error) {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek to offset: %w", err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(r.file)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		offset += int64(len(line)) + 1 // +1 for newline
		if len(line) == 0 {
			continue
		}

		e, err := ParseEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, *e)
	}

	if err := scanner.Err(); err != nil {
		return nil, offset, fmt.Errorf("scan transcript: %w", err)
	}

	return entries, offset, nil
}

// Tail follows the transcript file and sends new entries to the returned
// channel. The channel is closed when the context is cancelled or an
// unrecoverable error occurs.
// Uses fsnotify for efficient file watching with polling fallback.
func (r *Reader) Tail(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, 100)

	go func() {
		defer close(ch)

		// Seek to end to only show new content
		offset, err := r.file.Seek(0, io.SeekEnd)
		if err != nil {
			return
		}

		// Try fsnotify first
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			// Fallback to polling
			r.tailPolling(ctx, ch, offset)
			return
		}
		defer watcher.Close()

		// Watch the directory (more reliable than watching file directly)
		dir := filepath.Dir(r.path)
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			r.tailPolling(ctx, ch, offset)
			return
		}

		r.tailWithWatcher(ctx, ch, watcher, offset)
	}()

	return ch
}

// tailWithWatcher uses fsnotify for efficient file watching.
func (r *Reader) tailWithWatcher(ctx context.Context, ch chan<- Entry, watcher *fsnotify.Watcher, offset int64) {
	baseName := filepath.Base(r.path)
	reader := bufio.NewReader(r.file)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// Only care about writes to our file
			if filepath.Base(event.Name) != baseName {
				continue
			}
			if !event.Has(fsnotify.Write) {
				continue
			}

			// Check for truncation
			info, err := r.file.Stat()
			if err != nil {
				continue
			}
			if info.Size() < offset {
				// File truncated, reset
				r.file.Seek(0, io.SeekStart)
				offset = 0
				reader.Reset(r.file)
			}

			// Read new entries
			offset = r.readNewEntries(reader, ch, offset)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			// Log but continue - usually recoverable
			_ = err
		}
	}
}

// tailPolling uses polling as a fallback when fsnotify isn't available.
func (r *Reader) tailPolling(ctx context.Context, ch chan<- Entry, offset int64) {
	reader := bufio.NewReader(r.file)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			// Check for truncation
			info, err := r.file.Stat()
			if err != nil {
				continue
			}
			if info.Size() < offset {
				r.file.Seek(0, io.SeekStart)
				offset = 0
				reader.Reset(r.file)
			}

			// Read new entries
			offset = r.readNewEntries(reader, ch, offset)
		}
	}
}

// readNewEntries reads available entries from the reader.
func (r *Reader) readNewEntries(reader *bufio.Reader, ch chan<- Entry, offset int64) int64 {
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			offset += int64(len(line))
			// Trim newline for parsing
			line = []byte(strings.TrimSuffix(string(line), "\n"))
			if len(line) > 0 {
				if e, parseErr := ParseEntry(line); parseErr == nil {
					select {
					case ch <- *e:
					default:
						// Channel full, skip
					}
				}
			}
		}
		if err != nil {
			break
		}
	}
	return offset
}

// Summary contains aggregate statistics from a transcript file.
type Summary struct {
	SessionID         string
	EntryCount        int
	UserMessages      int
	AssistantMessages int
	FirstTime         time.Time
	LastTime          time.Time
}

// Summarize reads a transcript file and returns aggregate statistics.
func Summarize(path string) (*Summary, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}

	for _, e := range entries {
		summary.EntryCount++

		if summary.FirstTime.IsZero() {
			summary.FirstTime = e.Time
		}
		summary.LastTime = e.Time

		if summary.SessionID == "" && e.SessionID != "" {
			summary.SessionID = e.SessionID
		}

		switch e.Role {
		case RoleUser:
			summary.UserMessages++
		case RoleAssistant:
			summary.AssistantMessages++
		}
	}

	return summary, nil
}

// FilterByRole returns only entries with the given role.
func FilterByRole(entries []Entry, role string) []Entry {
	var filtered []Entry
	for _, e := range entries {
		if e.Role == role {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
