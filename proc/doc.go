// Package proc spawns and supervises a single interactive subprocess.
//
// A Handle owns one OS process together with its stdin/stdout pipes and
// exposes line-oriented I/O, a liveness probe, and idempotent termination.
// Processes are started in their own process group so that Kill also reaps
// any children the agent spawned (build tools, MCP servers, test runners).
//
// # Usage
//
//	h, err := proc.Start(ctx, proc.Spec{Path: "claude", Args: []string{"--interactive"}})
//	if err != nil {
//	    return err
//	}
//	defer h.Kill()
//
//	if err := h.WriteLine("hello"); err != nil {
//	    return err
//	}
//	line, err := h.ReadLine()
//
// Termination is graceful-then-forced: Kill sends SIGTERM to the process
// group, waits a bounded grace period, then sends SIGKILL. Killing an
// already-dead handle is a no-op.
package proc
