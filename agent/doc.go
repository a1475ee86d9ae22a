// Package agent executes AI agent CLI processes: single-shot streaming
// invocations and long-lived conversational sessions.
//
// # Streaming
//
// A Runner launches one subprocess per prompt and exposes its output as a
// lazy, finite sequence of lines:
//
//	runner := agent.NewRunner(agent.WithBinary("claude"))
//	stream, err := runner.ExecuteStreaming(ctx, "explain this diff")
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    line, err := stream.Next()
//	    if err != nil {
//	        break // io.EOF on normal exhaustion
//	    }
//	    fmt.Println(line)
//	}
//
// The stream exclusively owns the subprocess: release it by consuming to
// exhaustion or by calling Close. A watchdog sized from the configured
// timeout kills the process if it outlives its budget.
//
// # Sessions
//
// A Manager owns a registry of sessions, each bound to one interactive
// subprocess that preserves conversation context across exchanges:
//
//	mgr := agent.NewManager(agent.WithSweepInterval(5 * time.Minute))
//	defer mgr.Shutdown()
//
//	sess, err := mgr.Create(ctx)
//	reply, err := sess.SendMessage(ctx, "what changed in v2?")
//
// Exchanges on one session are serialized; exchanges on distinct sessions
// run in parallel. A background sweep evicts sessions idle beyond their
// inactivity timeout.
//
// # Errors
//
// Failures unwrap to the package sentinels (ErrLaunch, ErrTimeout,
// ErrCommunication, ErrSessionNotFound, ...) so callers can branch with
// errors.Is.
package agent
