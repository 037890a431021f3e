package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"mijiamcp/internal/audit"
	"mijiamcp/internal/config"
	"mijiamcp/internal/dispatch"
	"mijiamcp/internal/script"
	"mijiamcp/internal/telemetry"
	"mijiamcp/internal/tool"
)

// app carries what every subcommand needs: flags, the loaded config, and
// resources to release on exit.
type app struct {
	configPath string
	envFile    string

	stdout io.Writer
	stderr io.Writer

	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

// load reads .env, then the config, then sets up logging.
func (a *app) load() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := a.newLogger(cfg)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// newLogger writes text logs to stderr, or to cfg.LogFile when set. Stdout
// belongs to the MCP stdio transport.
func (a *app) newLogger(cfg *config.Config) (*slog.Logger, error) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = a.stderr
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		w = f
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func (a *app) sysInfo() *tool.SysInfo {
	return tool.NewSysInfo(a.cfg.Interpreter, a.cfg.ScriptDir, a.cfg.Debug)
}

func (a *app) newInvoker() *script.Invoker {
	return script.NewInvoker(script.Config{
		Interpreter:   a.cfg.Interpreter,
		BaseDir:       a.cfg.ScriptDir,
		Timeout:       a.cfg.Timeout(),
		MaxConcurrent: a.cfg.MaxConcurrent,
		Logger:        a.logger,
	})
}

// openJournal opens the audit journal when one is configured.
func (a *app) openJournal() (*audit.Journal, error) {
	if a.cfg.AuditDB == "" {
		return nil, nil
	}
	j, err := audit.Open(a.cfg.AuditDB, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, j.Close)
	return j, nil
}

// newDispatcher wires registry, instrumented invoker, local handlers and the
// optional journal.
func (a *app) newDispatcher() (*dispatch.Dispatcher, error) {
	invoker, err := telemetry.NewInstrumentedInvoker(a.newInvoker(), telemetry.Meter(), telemetry.Tracer())
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	opts := dispatch.Options{
		Registry: tool.Default(),
		Invoker:  invoker,
		Script:   a.cfg.Script,
		Locals: map[string]dispatch.LocalHandler{
			tool.SystemInfoTool: a.sysInfo().Handle,
		},
		Strict: a.cfg.StrictValidation,
		Logger: a.logger,
	}
	journal, err := a.openJournal()
	if err != nil {
		return nil, err
	}
	if journal != nil {
		opts.Journal = journal
	}
	return dispatch.New(opts)
}

// setupTelemetry installs the OTLP exporter if configured and registers its
// shutdown.
func (a *app) setupTelemetry(ctx context.Context) error {
	shutdown, err := telemetry.Setup(ctx, a.cfg.OTLPEndpoint, tool.ServerName, tool.ServerVersion)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
