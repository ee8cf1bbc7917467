// Package toolexec runs external analysis tools as subprocesses with a
// bounded execution time.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ahrav/scan-orchestrator/pkg/common/logger"
)

var (
	// ErrToolNotFound is returned when the binary cannot be resolved.
	ErrToolNotFound = errors.New("tool not installed")
	// ErrTimeout is returned when the command outlives its timeout.
	ErrTimeout = errors.New("tool timed out")
)

// maxStderr bounds the stderr excerpt kept on an ExitError.
const maxStderr = 2048

// ExitError reports a non-zero exit status. The Result returned alongside it
// still carries the captured output, since several tools signal "findings
// present" with a non-zero code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

// Command describes a single tool invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration
}

// Result holds what a finished command produced.
type Result struct {
	Path     string
	Args     []string
	Started  time.Time
	Stopped  time.Time
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Duration returns the wall time of the command.
func (r Result) Duration() time.Duration { return r.Stopped.Sub(r.Started) }

// Runner executes commands. Adapters depend on it so tests can substitute
// canned output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	log *logger.Logger
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates an ExecRunner.
func NewExecRunner(log *logger.Logger) *ExecRunner {
	return &ExecRunner{log: log.With("component", "toolexec")}
}

// Run starts the command and waits for it. It returns ErrToolNotFound when
// the binary is missing, ErrTimeout when Timeout elapses and *ExitError for
// a non-zero exit. The Result is populated in every case the process ran.
func (r *ExecRunner) Run(ctx context.Context, proto Command) (Result, error) {
	res := Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	path, err := exec.LookPath(proto.Path)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %v", ErrToolNotFound, proto.Path, err)
	}

	if proto.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
		defer cancel()
	} else {
		r.log.Warn(ctx, "command has no timeout", "path", proto.Path)
	}

	cmd := exec.CommandContext(ctx, path, proto.Args...)
	cmd.Dir = proto.Dir
	if len(proto.Env) > 0 {
		cmd.Env = proto.Env
	}
	// Give children that inherited the pipes a moment to exit after a kill.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug(ctx, "running tool", "path", path, "args", strings.Join(proto.Args, " "), "timeout", proto.Timeout)

	res.Started = time.Now().UTC()
	runErr := cmd.Run()
	res.Stopped = time.Now().UTC()
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runErr == nil {
		return res, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%w after %s: %s", ErrTimeout, proto.Timeout, proto.Path)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return res, &ExitError{Code: exitErr.ExitCode(), Stderr: excerpt(res.Stderr)}
	}

	return res, fmt.Errorf("running %s: %w", proto.Path, runErr)
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxStderr {
		s = s[:maxStderr] + "..."
	}
	return s
}
