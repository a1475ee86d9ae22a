package agent_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentkit/agent"
	"github.com/randalmurphal/agentkit/transcript"
)

func TestManagerCreateAndGet(t *testing.T) {
	m := newTestManager(t, agent.WithDefaultOptions(agent.WithBinary(echoAgent(t))))

	s1, err := m.Create(context.Background())
	require.NoError(t, err)
	s2, err := m.Create(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.True(t, m.IsActive(s1.ID()))
	assert.True(t, m.IsActive(s2.ID()))

	got, err := m.Get(s1.ID())
	require.NoError(t, err)
	assert.Same(t, s1, got)

	assert.ElementsMatch(t, []string{s1.ID(), s2.ID()}, m.List())
}

func TestManagerGetUnknown(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get("no-such-id")
	assert.ErrorIs(t, err, agent.ErrSessionNotFound)
	assert.False(t, m.IsActive("no-such-id"))
}

func TestManagerSendMessageRoutes(t *testing.T) {
	m := newTestManager(t, agent.WithDefaultOptions(agent.WithBinary(echoAgent(t))))

	const n = 4
	ids := make([]string, n)
	for i := range ids {
		s, err := m.Create(context.Background())
		require.NoError(t, err)
		ids[i] = s.ID()
	}

	// Distinct sessions run in parallel without cross-talk.
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			msg := fmt.Sprintf("to-%d", i)
			resp, err := m.SendMessage(context.Background(), id, msg)
			if err != nil {
				errs[i] = err
				return
			}
			if resp != "echo: "+msg {
				errs[i] = fmt.Errorf("mismatched response %q for %q", resp, msg)
			}
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "session %d", i)
	}
}

func TestManagerSessionsExchangeInParallel(t *testing.T) {
	// Exchanges on distinct sessions must overlap: total wall time for N
	// concurrent exchanges stays near one exchange's latency, not N times
	// it.
	m := newTestManager(t, agent.WithDefaultOptions(agent.WithBinary(slowEchoAgent(t))))

	const n = 4
	sessions := make([]string, n)
	for i := range sessions {
		s, err := m.Create(context.Background())
		require.NoError(t, err)
		sessions[i] = s.ID()
	}

	start := time.Now()
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, id := range sessions {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = m.SendMessage(context.Background(), id, "ping")
		}(i, id)
	}
	wg.Wait()
	elapsed := time.Since(start)

	for i, err := range errs {
		require.NoError(t, err, "session %d", i)
	}
	// Each exchange takes ~500ms; serial execution would need ~2s.
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestManagerSendMessageUnknown(t *testing.T) {
	m := newTestManager(t)

	_, err := m.SendMessage(context.Background(), "no-such-id", "hello")
	assert.ErrorIs(t, err, agent.ErrSessionNotFound)
}

func TestManagerCloseSession(t *testing.T) {
	m := newTestManager(t, agent.WithDefaultOptions(agent.WithBinary(echoAgent(t))))

	s, err := m.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.CloseSession(s.ID()))
	assert.False(t, m.IsActive(s.ID()))

	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, agent.ErrSessionNotFound)

	// Closing again, and closing ids that never existed, are no-ops.
	require.NoError(t, m.CloseSession(s.ID()))
	require.NoError(t, m.CloseSession("never-existed"))
}

func TestManagerTimeoutEvicts(t *testing.T) {
	m := newTestManager(t, agent.WithDefaultOptions(
		agent.WithBinary(hangingAgent(t)),
		agent.WithTimeout(200*time.Millisecond),
		agent.WithGracePeriod(100*time.Millisecond),
	))

	s, err := m.Create(context.Background())
	require.NoError(t, err)

	_, err = m.SendMessage(context.Background(), s.ID(), "hang")
	assert.ErrorIs(t, err, agent.ErrTimeout)

	// A timed-out session leaves no registry entry behind.
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, agent.ErrSessionNotFound)
	assert.Equal(t, 0, m.Stats().ActiveSessions)
}

func TestManagerSweepEvictsIdle(t *testing.T) {
	m := newTestManager(t,
		agent.WithDefaultOptions(
			agent.WithBinary(echoAgent(t)),
			agent.WithIdleTimeout(100*time.Millisecond),
			agent.WithGracePeriod(100*time.Millisecond),
		),
		agent.WithSweepInterval(50*time.Millisecond),
	)

	s, err := m.Create(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !m.IsActive(s.ID())
	}, 5*time.Second, 25*time.Millisecond, "idle session was not evicted")

	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, agent.ErrSessionNotFound)
	assert.Equal(t, agent.StateClosed, s.State())
}

func TestManagerSweepKeepsBusySessions(t *testing.T) {
	m := newTestManager(t,
		agent.WithDefaultOptions(
			agent.WithBinary(echoAgent(t)),
			agent.WithIdleTimeout(300*time.Millisecond),
		),
		agent.WithSweepInterval(50*time.Millisecond),
	)

	s, err := m.Create(context.Background())
	require.NoError(t, err)

	// Regular exchanges reset the idle clock, so the sweep leaves the
	// session alone.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		_, err := s.SendMessage(context.Background(), "ping")
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	assert.True(t, m.IsActive(s.ID()))
}

func TestManagerStats(t *testing.T) {
	m := newTestManager(t, agent.WithDefaultOptions(
		agent.WithBinary(echoAgent(t)),
		agent.WithIdleTimeout(7*time.Minute),
	))

	assert.Equal(t, 0, m.Stats().ActiveSessions)

	_, err := m.Create(context.Background())
	require.NoError(t, err)
	_, err = m.Create(context.Background())
	require.NoError(t, err)

	st := m.Stats()
	assert.Equal(t, 2, st.ActiveSessions)
	assert.Equal(t, 7*time.Minute, st.IdleTimeout)
	assert.GreaterOrEqual(t, st.AvgSessionAge, time.Duration(0))
}

func TestManagerShutdown(t *testing.T) {
	m := agent.NewManager(agent.WithDefaultOptions(agent.WithBinary(echoAgent(t))))

	s1, err := m.Create(context.Background())
	require.NoError(t, err)
	s2, err := m.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Shutdown())

	assert.Equal(t, agent.StateClosed, s1.State())
	assert.Equal(t, agent.StateClosed, s2.State())

	_, err = m.Create(context.Background())
	assert.ErrorIs(t, err, agent.ErrManagerClosed)
	// Id-based lookups treat every id as unknown after shutdown.
	_, err = m.Get(s1.ID())
	assert.ErrorIs(t, err, agent.ErrSessionNotFound)
	_, err = m.SendMessage(context.Background(), s1.ID(), "late")
	assert.ErrorIs(t, err, agent.ErrSessionNotFound)
	assert.False(t, m.IsActive(s1.ID()))
	assert.Equal(t, 0, m.Stats().ActiveSessions)

	// Shutdown is idempotent.
	require.NoError(t, m.Shutdown())
}

func TestManagerTranscripts(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t,
		agent.WithDefaultOptions(agent.WithBinary(echoAgent(t))),
		agent.WithTranscriptDir(dir),
	)

	s, err := m.Create(context.Background())
	require.NoError(t, err)

	_, err = s.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, m.CloseSession(s.ID()))

	entries, err := transcript.ReadFile(filepath.Join(dir, s.ID()+".jsonl"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, transcript.RoleUser, entries[0].Role)
	assert.Equal(t, "hello", entries[0].Text)
	assert.Equal(t, transcript.RoleAssistant, entries[1].Role)
	assert.Equal(t, "echo: hello", entries[1].Text)
	assert.Equal(t, s.ID(), entries[0].SessionID)
}

func TestNewManagerFromConfig(t *testing.T) {
	cfg := &agent.FileConfig{
		Binary:        echoAgent(t),
		SweepInterval: agent.Duration(time.Minute),
	}

	m := agent.NewManagerFromConfig(cfg)
	t.Cleanup(func() { _ = m.Shutdown() })

	s, err := m.Create(context.Background())
	require.NoError(t, err)

	resp, err := s.SendMessage(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", resp)
}
