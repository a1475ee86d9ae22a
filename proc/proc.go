package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long Kill waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// readBufferSize sizes the stdout reader. Agent output lines can be large
// (whole file contents), so start well above the bufio default.
const readBufferSize = 64 * 1024

// Spec describes the subprocess to start.
type Spec struct {
	// Path is the executable to run. Required.
	Path string

	// Args are passed to the executable.
	Args []string

	// Env provides additional environment variables, merged over the
	// parent environment.
	Env map[string]string

	// Dir is the working directory. Empty means inherit.
	Dir string

	// GracePeriod overrides the SIGTERM-to-SIGKILL delay.
	// Zero uses DefaultGracePeriod.
	GracePeriod time.Duration
}

// Handle owns one running subprocess and its stdio pipes.
//
// A Handle is created by Start and released exactly once by Kill (or by the
// process exiting on its own). Methods are safe for use from multiple
// goroutines, but ReadLine is a cursor: concurrent readers would interleave
// lines, so callers serialize reads themselves.
type Handle struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdoutR *os.File
	stderrR *os.File
	reader  *bufio.Reader

	done chan struct{} // closed when the process exits

	mu      sync.Mutex
	exitErr error

	killOnce sync.Once
	killErr  error

	closeInputOnce sync.Once

	grace time.Duration
}

// Start launches the subprocess described by spec.
//
// The process runs in its own process group. ctx gates startup only: a
// cancelled context prevents the spawn, but the running process belongs to
// the Handle alone and is terminated only by Kill. The returned Handle
// must be released via Kill unless the process is observed to exit on its
// own.
func Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("proc: spec.Path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("proc: start aborted: %w", err)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	// Own process group so Kill can signal the agent and everything it
	// spawned in one shot.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	// Plain pipes instead of StdoutPipe/StderrPipe: cmd.Wait closes pipes
	// it created as soon as the command exits, discarding output a
	// fast-exiting process already wrote. With our own pipe the read side
	// stays open until Kill, so buffered output survives the exit.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		_ = stderrR.Close()
		_ = stderrW.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	// The child holds its own copies; releasing the parent's write ends
	// lets readers see EOF once the process exits.
	_ = stdoutW.Close()
	_ = stderrW.Close()

	grace := spec.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	h := &Handle{
		cmd:     cmd,
		stdin:   stdin,
		stdoutR: stdoutR,
		stderrR: stderrR,
		reader:  bufio.NewReaderSize(stdoutR, readBufferSize),
		done:    make(chan struct{}),
		grace:   grace,
	}

	go h.waitForExit()
	go drainStderr(spec.Path, stderrR)

	return h, nil
}

// Pid returns the process id.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// WriteLine writes text plus a trailing newline to the process's stdin.
func (h *Handle) WriteLine(text string) error {
	if _, err := io.WriteString(h.stdin, text+"\n"); err != nil {
		return fmt.Errorf("write to process: %w", err)
	}
	return nil
}

// CloseInput closes the process's stdin, signalling end of input.
// Idempotent.
func (h *Handle) CloseInput() error {
	var err error
	h.closeInputOnce.Do(func() {
		err = h.stdin.Close()
	})
	return err
}

// ReadLine returns the next line of the process's stdout, without the
// trailing newline. It blocks until a line is available, the stream ends
// (io.EOF), or the pipe fails.
func (h *Handle) ReadLine() (string, error) {
	line, err := h.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			// A final unterminated line still counts as a line.
			if line != "" {
				return strings.TrimRight(line, "\r"), nil
			}
			return "", io.EOF
		}
		return "", fmt.Errorf("read from process: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed when the process exits.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the error the process exited with, if any.
// Only meaningful after Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Kill terminates the process: SIGTERM to the process group, a bounded
// grace period, then SIGKILL. Idempotent; killing an already-dead handle
// is a no-op.
func (h *Handle) Kill() error {
	h.killOnce.Do(func() {
		h.killErr = h.kill()
	})
	return h.killErr
}

func (h *Handle) kill() error {
	// Kill is the release point for the read pipes; until then they stay
	// open so output written before a fast exit remains readable.
	defer func() {
		_ = h.stdoutR.Close()
		_ = h.stderrR.Close()
	}()

	if !h.Alive() {
		return nil
	}

	_ = h.CloseInput()

	pgid := h.cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		// Process may have exited between the Alive check and the signal.
		select {
		case <-h.done:
			return nil
		default:
			return fmt.Errorf("signal process group %d: %w", pgid, err)
		}
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(h.grace):
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-h.done
	return nil
}

// waitForExit reaps the process and records its exit error.
func (h *Handle) waitForExit() {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.exitErr = err
	h.mu.Unlock()

	close(h.done)
}

// drainStderr reads and logs stderr output until the pipe closes.
func drainStderr(path string, stderr io.ReadCloser) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			slog.Debug("subprocess stderr",
				slog.String("path", path),
				slog.String("output", string(buf[:n])))
		}
		if err != nil {
			return
		}
	}
}
