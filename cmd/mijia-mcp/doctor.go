package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"mijiamcp/internal/tool"
)

type doctorReport struct {
	out                    io.Writer
	passed, failed, warned int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the interpreter, backend script and optional services",
		Long: `Verifies that the configuration loads, the interpreter and backend script
can be found, and that the optional audit database, log file and HTTP port
are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &doctorReport{out: cmd.OutOrStdout()}
			fmt.Fprintf(r.out, "%s doctor v%s\n", tool.ServerName, tool.ServerVersion)
			fmt.Fprintf(r.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			if err := a.load(); err != nil {
				r.fail("Config", err.Error())
				fmt.Fprintf(r.out, "\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			r.pass("Config", "valid")
			cfg := a.cfg

			// Interpreter on PATH or at the given location.
			if path, err := exec.LookPath(cfg.Interpreter); err != nil {
				r.fail("Interpreter", fmt.Sprintf("%s: %v", cfg.Interpreter, err))
			} else {
				r.pass("Interpreter", path)
			}

			if info, err := os.Stat(cfg.ScriptDir); err != nil || !info.IsDir() {
				r.fail("Script directory", fmt.Sprintf("not a directory: %s", cfg.ScriptDir))
			} else {
				r.pass("Script directory", cfg.ScriptDir)
			}

			if path, err := a.newInvoker().ResolvePath(cfg.Script); err != nil {
				r.fail("Backend script", err.Error())
			} else {
				r.pass("Backend script", path)
			}

			if cfg.AuditDB != "" {
				if err := checkDatabase(cfg.AuditDB); err != nil {
					r.fail("Audit database", err.Error())
				} else {
					r.pass("Audit database", cfg.AuditDB)
				}
			}

			if cfg.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.LogFile)
				}
			}

			if cfg.HTTPAddr != "" {
				if err := checkPort(cfg.HTTPAddr); err != nil {
					r.warn("HTTP address", fmt.Sprintf("%s may be in use: %v", cfg.HTTPAddr, err))
				} else {
					r.pass("HTTP address", cfg.HTTPAddr+" available")
				}
				if cfg.AuthSecret == "" {
					r.warn("HTTP auth", "disabled; anyone who can reach the port can call tools")
				} else {
					r.pass("HTTP auth", "bearer token required")
				}
			}

			fmt.Fprintf(r.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(r.out, "Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test") //nolint:errcheck
	return nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
