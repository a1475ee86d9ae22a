package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/agentkit/proc"
	"github.com/randalmurphal/agentkit/transcript"
)

// State is a session lifecycle state. Transitions are forward-only:
// Created -> Active -> Closing -> Closed.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateClosing
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is one multi-turn conversation backed by a persistent agent
// subprocess. The subprocess keeps conversational context between
// exchanges; killing it loses that context, so sessions are closed, never
// restarted.
//
// SendMessage serializes concurrent callers. Close is safe from any
// goroutine at any time, including during an in-flight exchange.
type Session struct {
	id        string
	opts      Options
	handle    *proc.Handle
	createdAt time.Time
	logger    *slog.Logger

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos

	// exchangeMu serializes exchanges so concurrent senders cannot
	// interleave their writes with another caller's response.
	exchangeMu sync.Mutex

	rec *transcript.Writer // nil when transcripts are disabled
}

// newSession spawns the interactive subprocess for a session.
func newSession(ctx context.Context, id string, opts Options, rec *transcript.Writer, logger *slog.Logger) (*Session, error) {
	h, err := proc.Start(ctx, proc.Spec{
		Path:        opts.Binary,
		Args:        opts.buildArgs(true),
		Env:         opts.Env,
		Dir:         opts.WorkDir,
		GracePeriod: opts.GracePeriod,
	})
	if err != nil {
		return nil, newError("create", id, fmt.Errorf("%w: %v", ErrLaunch, err))
	}

	s := &Session{
		id:        id,
		opts:      opts,
		handle:    h,
		createdAt: time.Now(),
		logger:    logger,
		rec:       rec,
	}
	s.state.Store(int32(StateActive))
	s.touch()

	logger.Debug("session started",
		slog.String("session_id", id),
		slog.Int("pid", h.Pid()),
		slog.String("binary", opts.Binary))

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Pid returns the subprocess pid.
func (s *Session) Pid() int {
	return s.handle.Pid()
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastActivity returns the time of the last completed exchange, or the
// creation time if none has completed.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IdleFor returns how long the session has been idle.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActivity())
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Active reports whether the session can accept messages: lifecycle state
// is active and the subprocess is still running.
func (s *Session) Active() bool {
	return s.State() == StateActive && s.handle.Alive()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// SendMessage sends one message and blocks until the complete response has
// been read. The response is every output line up to (excluding) the
// marker line, joined with newlines.
//
// Concurrent calls are serialized; each waiting caller gets a complete,
// correctly paired exchange. On timeout or cancellation the subprocess is
// killed and the session becomes closed, because a half-read exchange
// leaves the conversation state unusable.
func (s *Session) SendMessage(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", newError("send", s.id, fmt.Errorf("%w: empty message", ErrInvalidInput))
	}

	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	if !s.Active() {
		return "", newError("send", s.id, ErrSessionClosed)
	}

	var timedOut, cancelled atomic.Bool
	timer := time.NewTimer(s.opts.Timeout)
	defer timer.Stop()
	watchDone := make(chan struct{})
	defer close(watchDone)

	// The watcher unblocks a stuck exchange by killing the process, which
	// fails the blocked read below.
	go func() {
		select {
		case <-timer.C:
			timedOut.Store(true)
			s.terminate()
		case <-ctx.Done():
			cancelled.Store(true)
			s.terminate()
		case <-watchDone:
		}
	}()

	if err := s.handle.WriteLine(text); err != nil {
		return "", s.exchangeError(ctx, "send", err, &timedOut, &cancelled)
	}

	var lines []string
	for {
		line, err := s.handle.ReadLine()
		if err != nil {
			return "", s.exchangeError(ctx, "send", err, &timedOut, &cancelled)
		}
		if strings.TrimSpace(line) == s.opts.Marker {
			break
		}
		lines = append(lines, line)
	}

	response := strings.Join(lines, "\n")
	s.touch()
	s.record(text, response)
	return response, nil
}

// exchangeError maps a failed write/read to the right sentinel. The
// process is dead or dying on every path here.
func (s *Session) exchangeError(ctx context.Context, op string, cause error, timedOut, cancelled *atomic.Bool) error {
	// A close that raced the exchange already moved the state forward;
	// that caller sees ErrSessionClosed, not a communication failure.
	closedElsewhere := s.State() != StateActive
	s.terminate()
	switch {
	case timedOut.Load():
		return newError(op, s.id, fmt.Errorf("%w after %v", ErrTimeout, s.opts.Timeout))
	case cancelled.Load():
		return newError(op, s.id, fmt.Errorf("%w: exchange cancelled: %w", ErrCommunication, ctx.Err()))
	case closedElsewhere:
		return newError(op, s.id, ErrSessionClosed)
	default:
		return newError(op, s.id, fmt.Errorf("%w: %v", ErrCommunication, cause))
	}
}

// record appends the exchange to the transcript, if one is configured.
func (s *Session) record(text, response string) {
	if s.rec == nil {
		return
	}
	now := time.Now()
	for _, e := range []transcript.Entry{
		{Time: now, SessionID: s.id, Role: transcript.RoleUser, Text: text},
		{Time: now, SessionID: s.id, Role: transcript.RoleAssistant, Text: response},
	} {
		if err := s.rec.Append(e); err != nil {
			s.logger.Warn("transcript append failed",
				slog.String("session_id", s.id),
				slog.Any("error", err))
			return
		}
	}
}

// terminate moves the session to closed, killing the subprocess exactly
// once. Callers losing the CAS race return immediately; the winner
// completes the kill.
func (s *Session) terminate() error {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateClosing)) {
		return nil
	}
	err := s.handle.Kill()
	s.state.Store(int32(StateClosed))
	if err != nil {
		s.logger.Warn("session kill failed",
			slog.String("session_id", s.id),
			slog.Any("error", err))
	} else {
		s.logger.Debug("session closed", slog.String("session_id", s.id))
	}
	if s.rec != nil {
		_ = s.rec.Close()
	}
	return err
}

// Close terminates the session's subprocess. Idempotent; closing an
// already-closed session is a no-op. Safe to call while an exchange is in
// flight, in which case the blocked SendMessage fails with
// ErrSessionClosed.
func (s *Session) Close() error {
	return s.terminate()
}
