// Package runner executes external commands with bounded run time.
//
// Every command is an argv list; nothing is passed through a shell. A
// non-zero exit status is reported in the Result, not as an error. Errors are
// reserved for commands that could not be started (KindExecution) and for
// commands killed at the deadline (KindTimeout, matching ErrTimeout).
package runner

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"time"

	"grimm.is/vpnadmin/internal/errors"
	"grimm.is/vpnadmin/internal/logging"
	"grimm.is/vpnadmin/internal/metrics"
)

// DefaultTimeout bounds a command when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// killGrace is how long Wait may block on inherited pipes after the process
// group has been killed.
const killGrace = 2 * time.Second

// ErrTimeout is matched by errors returned for commands that hit the deadline.
var ErrTimeout = errors.New(errors.KindTimeout, "command timed out")

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec runs commands on the host.
type Exec struct {
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.Registry
}

// Option configures an Exec.
type Option func(*Exec)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Exec) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(l *logging.Logger) Option {
	return func(e *Exec) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records command counts and latency.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Exec) {
		e.metrics = m
	}
}

// New creates a host runner.
func New(opts ...Option) *Exec {
	e := &Exec{
		timeout: DefaultTimeout,
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("runner")
	return e
}

// Timeout returns the per-command deadline.
func (e *Exec) Timeout() time.Duration {
	return e.timeout
}

// Run executes name with args, bounded by ctx and the runner timeout.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace
	isolate(cmd)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	outcome := "ok"
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordCommand(filepath.Base(name), outcome, elapsed)
		}
	}()

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		outcome = "timeout"
		e.logger.Warn("command killed", "command", name, "argc", len(args), "elapsed", elapsed, "reason", ctxErr)
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, errors.Wrap(ErrTimeout, errors.KindTimeout, "run "+name)
		}
		return res, errors.Wrap(ctxErr, errors.KindInternal, "run "+name)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		outcome = "nonzero"
		err = nil
	default:
		outcome = "error"
		e.logger.Warn("command failed to start", "command", name, "error", err)
		return res, errors.Wrap(err, errors.KindExecution, "run "+name)
	}

	e.logger.Debug("command finished", "command", name, "argc", len(args), "exit", res.ExitCode, "elapsed", elapsed)
	return res, nil
}
