// Package agentkit supervises externally-spawned, long-running agent CLI
// processes.
//
// agentkit is a standalone toolkit designed to be imported à la carte. Each
// subpackage can be used independently:
//
//   - proc: spawn one interactive subprocess with line-oriented stdio,
//     liveness probing, and graceful-then-forced termination
//   - agent: single-shot streaming invocations, multi-turn conversational
//     sessions, and a session manager with idle eviction
//   - transcript: JSONL exchange transcripts with live tailing
//
// # Quick Start
//
// Streaming execution:
//
//	import "github.com/randalmurphal/agentkit/agent"
//	runner := agent.NewRunner(agent.WithBinary("claude"))
//	stream, _ := runner.ExecuteStreaming(ctx, "summarize this repo")
//	defer stream.Close()
//	for {
//	    line, err := stream.Next()
//	    if err != nil {
//	        break
//	    }
//	    fmt.Println(line)
//	}
//
// Conversational sessions:
//
//	mgr := agent.NewManager(
//	    agent.WithDefaultOptions(agent.WithIdleTimeout(30 * time.Minute)),
//	)
//	defer mgr.Shutdown()
//	sess, _ := mgr.Create(ctx)
//	reply, _ := sess.SendMessage(ctx, "hello")
//
// # Design Philosophy
//
//   - Explicit ownership: every subprocess has exactly one owner that must
//     release it
//   - Every blocking operation is bounded by an explicit timer
//   - Sensible defaults with full configurability
//   - Interfaces for extensibility, concrete types for simplicity
package agentkit
