// Package script launches the backend script for a forwarded tool call and
// turns its stdout into a decoded JSON value.
//
// The calling convention is fixed: <interpreter> <scriptPath> <jsonArgs>,
// with the parent environment inherited. The script prints one JSON document
// on stdout. Anything on stderr is logged and otherwise ignored.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"mijiamcp/internal/domain"
	"mijiamcp/internal/metrics"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxConcurrent = 8
	// waitDelay bounds how long Wait blocks on pipes still held open after
	// the script was killed or exited.
	waitDelay = time.Second
)

type Config struct {
	Interpreter   string
	BaseDir       string
	Timeout       time.Duration
	MaxConcurrent int
	Logger        *slog.Logger
}

// Invoker runs backend scripts. It is safe for concurrent use.
type Invoker struct {
	interpreter string
	baseDir     string
	timeout     time.Duration
	sem         *semaphore.Weighted
	logger      *slog.Logger
}

func NewInvoker(cfg Config) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "."
	}
	return &Invoker{
		interpreter: cfg.Interpreter,
		baseDir:     cfg.BaseDir,
		timeout:     cfg.Timeout,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:      cfg.Logger.With("component", "script"),
	}
}

// Timeout returns the per-call ceiling.
func (i *Invoker) Timeout() time.Duration { return i.timeout }

// Interpreter returns the configured interpreter command.
func (i *Invoker) Interpreter() string { return i.interpreter }

// ResolvePath maps a script identifier to an absolute path. Absolute names are
// used as-is; relative names are joined onto the base directory, which is
// itself made absolute against the working directory. The file must exist.
func (i *Invoker) ResolvePath(script string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", newError(KindPathResolution, script, "script name is empty")
	}

	path := script
	if !filepath.IsAbs(path) {
		base, err := filepath.Abs(i.baseDir)
		if err != nil {
			e := newError(KindPathResolution, script, "cannot resolve script directory %q", i.baseDir)
			e.Cause = err
			return "", e
		}
		path = filepath.Join(base, script)
	}

	info, err := os.Stat(path)
	if err != nil {
		e := newError(KindPathResolution, script, "script %s is not accessible", path)
		e.Cause = err
		return "", e
	}
	if info.IsDir() {
		return "", newError(KindPathResolution, script, "script %s is a directory", path)
	}
	return path, nil
}

// Invoke runs script with params as its single JSON argument and returns the
// decoded stdout. Every failure is an *InvocationError. The timeout applies
// to the run itself; waiting for a slot is bounded only by ctx.
func (i *Invoker) Invoke(ctx context.Context, script string, params map[string]any) (any, error) {
	path, err := i.ResolvePath(script)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = map[string]any{}
	}
	argJSON, err := json.Marshal(params)
	if err != nil {
		e := newError(KindSpawn, path, "cannot encode script arguments")
		e.Cause = err
		return nil, e
	}

	if err := i.sem.Acquire(ctx, 1); err != nil {
		e := newError(KindCanceled, path, "gave up waiting for a free script slot")
		e.Cause = err
		return nil, e
	}
	defer i.sem.Release(1)

	i.logger.Debug("invoking script", "interpreter", i.interpreter, "script", path, "args", string(argJSON))

	outcome, err := i.run(ctx, path, string(argJSON))
	if err != nil {
		return nil, err
	}

	i.logger.Debug("script finished", "script", path, "elapsed", outcome.Elapsed, "stdout_bytes", len(outcome.Stdout))
	return decodeOutput(path, outcome)
}

func (i *Invoker) run(ctx context.Context, path, argJSON string) (domain.SubprocessOutcome, error) {
	execCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	// #nosec G204 -- interpreter and script come from operator configuration.
	cmd := exec.CommandContext(execCtx, i.interpreter, path, argJSON)
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	metrics.SubprocessInFlight.Inc()
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	metrics.SubprocessInFlight.Dec()
	metrics.SubprocessLatency.Observe(elapsed.Seconds())

	outcome := domain.SubprocessOutcome{
		Stdout:  stdout.String(),
		Stderr:  strings.TrimSpace(stderr.String()),
		Elapsed: elapsed,
	}
	if outcome.Stderr != "" {
		i.logger.Warn("script wrote to stderr", "script", path, "stderr", outcome.Stderr)
	}

	// ErrWaitDelay after a clean exit only means a pipe stayed open.
	if runErr == nil || (errors.Is(runErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success()) {
		outcome.ExitedNormally = true
		return outcome, nil
	}

	e := classifyRunError(ctx, execCtx, runErr, path, i.timeout)
	e.Stderr = outcome.Stderr
	e.Elapsed = elapsed
	return outcome, e
}

func classifyRunError(parent, execCtx context.Context, runErr error, path string, timeout time.Duration) *InvocationError {
	var (
		e       *InvocationError
		execErr *exec.Error
		exitErr *exec.ExitError
	)
	switch {
	case parent.Err() != nil:
		e = newError(KindCanceled, path, "script call canceled")
		e.Cause = parent.Err()
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		e = newError(KindTimeout, path, "script timed out after %s", timeout)
		e.Cause = context.DeadlineExceeded
	case errors.As(runErr, &execErr):
		e = newError(KindSpawn, path, "cannot start interpreter")
		e.Cause = runErr
	case errors.As(runErr, &exitErr):
		e = newError(KindExit, path, "script exited with code %d", exitErr.ExitCode())
	default:
		e = newError(KindSpawn, path, "cannot run script")
		e.Cause = runErr
	}
	return e
}

// decodeOutput parses trimmed stdout as exactly one JSON value. Numbers are
// kept as json.Number so re-encoding reproduces them unchanged.
func decodeOutput(path string, outcome domain.SubprocessOutcome) (any, error) {
	out := strings.TrimSpace(outcome.Stdout)
	if out == "" {
		e := newError(KindEmptyOutput, path, "script produced no output")
		e.Stderr = outcome.Stderr
		e.Elapsed = outcome.Elapsed
		return nil, e
	}

	dec := json.NewDecoder(strings.NewReader(out))
	dec.UseNumber()
	var v any
	err := dec.Decode(&v)
	if err == nil {
		if _, extra := dec.Token(); extra != io.EOF {
			err = errors.New("unexpected data after JSON value")
		}
	}
	if err != nil {
		e := newError(KindMalformedOutput, path, "script output is not valid JSON")
		e.Cause = err
		e.Stderr = outcome.Stderr
		e.Elapsed = outcome.Elapsed
		return nil, e
	}
	return v, nil
}
