package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/agentkit/proc"
)

// Runner executes single-shot streaming invocations.
// One subprocess is spawned per prompt; its output is exposed as a lazy,
// finite sequence of lines.
type Runner struct {
	opts Options
}

// NewRunner creates a runner with the given default options.
func NewRunner(opts ...Option) *Runner {
	return &Runner{opts: Options{}.apply(opts...)}
}

// NewRunnerFromConfig creates a runner from a parsed config file.
// Additional options override config values.
func NewRunnerFromConfig(cfg *FileConfig, opts ...Option) *Runner {
	all := append(cfg.ToOptions(), opts...)
	return NewRunner(all...)
}

// ExecuteStreaming launches one subprocess with the prompt on its stdin and
// returns a Stream over its output lines.
//
// The stream exclusively owns the subprocess. It must be released either by
// consuming it to exhaustion or by calling Close; breaking out of
// consumption early still requires Close. A watchdog sized from the
// resolved timeout kills the process if the duration elapses before it
// exits, after which the next pull fails with ErrTimeout.
func (r *Runner) ExecuteStreaming(ctx context.Context, prompt string, opts ...Option) (*Stream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, newError("stream", "", fmt.Errorf("%w: empty prompt", ErrInvalidInput))
	}

	o := r.opts.apply(opts...)
	if err := o.Validate(); err != nil {
		return nil, newError("stream", "", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	h, err := proc.Start(ctx, proc.Spec{
		Path:        o.Binary,
		Args:        o.buildArgs(false),
		Env:         o.Env,
		Dir:         o.WorkDir,
		GracePeriod: o.GracePeriod,
	})
	if err != nil {
		return nil, newError("stream", "", fmt.Errorf("%w: %v", ErrLaunch, err))
	}

	if err := h.WriteLine(prompt); err != nil {
		_ = h.Kill()
		return nil, newError("stream", "", fmt.Errorf("%w: %v", ErrCommunication, err))
	}
	_ = h.CloseInput()

	s := &Stream{handle: h}
	s.watchdog = time.AfterFunc(o.Timeout, func() {
		s.timedOut.Store(true)
		slog.Debug("stream watchdog fired", slog.Duration("timeout", o.Timeout))
		if err := h.Kill(); err != nil {
			slog.Warn("stream watchdog kill failed", slog.Any("error", err))
		}
	})

	return s, nil
}

// Stream is a lazy, finite, non-restartable sequence of subprocess output
// lines. It exclusively owns the underlying process.
//
// Next is a cursor and must not be called concurrently; Close is safe from
// any goroutine at any time.
type Stream struct {
	handle   *proc.Handle
	watchdog *time.Timer

	timedOut atomic.Bool
	closed   atomic.Bool

	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error // sticky terminal error, io.EOF on normal exhaustion
}

// Next returns the next output line, blocking until one is available.
// It returns io.EOF when the subprocess reaches end of output, ErrTimeout
// if the watchdog killed the process, and ErrStreamClosed after Close.
func (s *Stream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}
	if s.closed.Load() {
		s.err = newError("stream", "", ErrStreamClosed)
		return "", s.err
	}
	// Once the watchdog has killed the process, buffered lines are no
	// longer served; the stream fails on the next pull.
	if s.timedOut.Load() {
		s.err = newError("stream", "", ErrTimeout)
		return "", s.err
	}

	line, err := s.handle.ReadLine()
	if err == nil {
		return line, nil
	}

	s.watchdog.Stop()

	switch {
	case s.timedOut.Load():
		s.err = newError("stream", "", ErrTimeout)
	case s.closed.Load():
		s.err = newError("stream", "", ErrStreamClosed)
	case err == io.EOF:
		// Normal exhaustion releases the subprocess.
		_ = s.handle.Kill()
		s.err = io.EOF
	default:
		_ = s.handle.Kill()
		s.err = newError("stream", "", fmt.Errorf("%w: %v", ErrCommunication, err))
	}
	return "", s.err
}

// Collect drains the stream to exhaustion and returns all lines.
// The subprocess is released on return.
func (s *Stream) Collect() ([]string, error) {
	defer s.Close()

	var lines []string
	for {
		line, err := s.Next()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
}

// Close releases the stream, forcibly terminating the subprocess if it is
// still alive. Idempotent and safe to call concurrently with Next.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.watchdog.Stop()
		s.closeErr = s.handle.Kill()
	})
	return s.closeErr
}
