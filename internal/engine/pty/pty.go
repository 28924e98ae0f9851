// Package pty owns the OS pseudo-terminal pair and the shell process
// attached to its slave side.
package pty

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	sharederrors "github.com/termpilot/termpilot/internal/shared/errors"
	"github.com/termpilot/termpilot/internal/types"
)

// Process wraps one pseudo-terminal and the shell process attached to it.
// Read and Write operate on the master side; Resize and Terminate act on
// the child process.
type Process struct {
	shell string
	cmd   *exec.Cmd
	ptmx  *os.File

	mu         sync.Mutex
	terminated bool

	// done is closed by the reaper goroutine once Wait has returned, which
	// guarantees the child has been reaped and no zombie remains.
	done     chan struct{}
	exitCode int
}

// SpawnOptions configures a new shell process.
type SpawnOptions struct {
	Shell      string
	WorkingDir string
	Dimensions types.Dimensions
	Env        map[string]string
}

// Spawn creates the pty pair, starts the shell attached to the slave side,
// and sets the initial window size.
func Spawn(opts SpawnOptions) (*Process, error) {
	shell := opts.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = os.Getenv("HOME")
		if workingDir == "" {
			workingDir = "/tmp"
		}
	}

	dims := opts.Dimensions
	if dims.Rows == 0 {
		dims.Rows = 24
	}
	if dims.Cols == 0 {
		dims.Cols = 80
	}

	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: dims.Rows,
		Cols: dims.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sharederrors.ErrSpawn, err)
	}

	p := &Process{
		shell:    shell,
		cmd:      cmd,
		ptmx:     ptmx,
		done:     make(chan struct{}),
		exitCode: -1,
	}

	go p.reap()

	return p, nil
}

// reap waits for the child to exit and records its status. Running Wait in
// one place means the process is always reaped exactly once.
func (p *Process) reap() {
	err := p.cmd.Wait()

	p.mu.Lock()
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	} else if err != nil {
		p.exitCode = -1
	}
	p.ptmx.Close()
	p.mu.Unlock()

	close(p.done)
}

// Read reads the next available chunk from the master side. It blocks until
// data is available and returns io.EOF once the shell has exited and all
// buffered output has drained.
func (p *Process) Read(buf []byte) (int, error) {
	n, err := p.ptmx.Read(buf)
	if err != nil {
		// Linux reports EIO on the master once the slave side is gone;
		// normalize it so callers only have to handle EOF.
		if isClosedRead(err) {
			return n, io.EOF
		}
		return n, err
	}
	return n, nil
}

// Write writes raw bytes to the master side. May block briefly under pty
// backpressure; callers must not hold locks across this call.
func (p *Process) Write(data []byte) error {
	_, err := p.ptmx.Write(data)
	return err
}

// Resize issues a window-size change to the pty.
func (p *Process) Resize(dims types.Dimensions) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: dims.Rows,
		Cols: dims.Cols,
	})
}

// Terminate sends SIGTERM, waits up to grace for the shell to exit, then
// SIGKILLs it. The reaper goroutine collects the exit status, so no zombie
// is left behind. Terminating an already-exited process is a no-op.
func (p *Process) Terminate(grace time.Duration) error {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.terminated = true
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}

	// Kill cannot be refused for a live child, so this wait is bounded in
	// practice; the timeout is a safety valve against a stuck reap.
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("process %d did not exit after kill", p.Pid())
	}
}

// Done returns a channel closed once the shell has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the shell process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the shell's exit code, or -1 if it has not exited.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Pid returns the shell's process ID, or -1 if unavailable.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Shell returns the path of the spawned shell.
func (p *Process) Shell() string {
	return p.shell
}

func isClosedRead(err error) bool {
	if err == io.EOF {
		return true
	}
	if pe, ok := err.(*os.PathError); ok {
		if pe.Err == syscall.EIO {
			return true
		}
	}
	return strings.Contains(err.Error(), "file already closed")
}
