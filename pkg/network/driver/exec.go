package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	nw "github.com/glennswest/microsdn/pkg/network"
)

// ─── Exec ────────────────────────────────────────────────────────────────────

// Exec runs commands on the local host. Arguments are passed to the binary
// as-is; no shell is involved.
type Exec struct {
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewExec returns an Executor that runs each command with the given timeout
// (0 means only the caller's context bounds it).
func NewExec(timeout time.Duration, log *zap.SugaredLogger) *Exec {
	return &Exec{timeout: timeout, log: log.Named("exec")}
}

// Execute runs cmd. A command that starts and exits non-zero returns its
// exit code with a nil error; a command that cannot start or is killed by
// the timeout returns an error.
func (e *Exec) Execute(ctx context.Context, cmd nw.Command) (nw.ExecResult, error) {
	if len(cmd.Args) == 0 {
		return nw.ExecResult{ExitCode: -1}, errors.New("empty command")
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := nw.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("running %s: %w", cmd.Args[0], ctx.Err())
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("running %s: %w", cmd.Args[0], err)
	}

	e.log.Debugw("command finished", "command", cmd.String(), "exit_code", res.ExitCode)
	return res, nil
}

// ─── Recorder ────────────────────────────────────────────────────────────────

// Recorder records commands without running them. Every command succeeds.
// It backs the demo and the execute=false mode.
type Recorder struct {
	mu       sync.Mutex
	commands []nw.Command
	log      *zap.SugaredLogger
}

func NewRecorder(log *zap.SugaredLogger) *Recorder {
	return &Recorder{log: log.Named("recorder")}
}

func (r *Recorder) Execute(_ context.Context, cmd nw.Command) (nw.ExecResult, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	r.log.Infow("would run", "command", cmd.String())
	return nw.ExecResult{}, nil
}

// Commands returns a copy of the recorded commands in execution order.
func (r *Recorder) Commands() []nw.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]nw.Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Reset drops the recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.commands = nil
	r.mu.Unlock()
}

var (
	_ nw.Executor = (*Exec)(nil)
	_ nw.Executor = (*Recorder)(nil)
)
