package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mijiamcp/internal/audit"
	"mijiamcp/internal/config"
	"mijiamcp/internal/envelope"
	"mijiamcp/internal/mcpserver"
	"mijiamcp/internal/metrics"
	"mijiamcp/internal/tool"
)

// errCallFailed makes `call` exit non-zero after printing a failure envelope.
var errCallFailed = errors.New("tool call failed")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errCallFailed) {
			fmt.Fprintln(stderr, "error:", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "mijia-mcp",
		Short: "MCP server for Xiaomi Mijia smart-home devices",
		Long: `mijia-mcp exposes Mijia smart-home operations as MCP tools. Each call is
forwarded to a backend script (mijia_tool.py by default) run by the
configured interpreter; the script's JSON output is returned to the client.

Without a subcommand the server runs over stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, "")
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML or JSON(C) config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(serveCmd(a))
	root.AddCommand(toolsCmd(a))
	root.AddCommand(callCmd(a))
	root.AddCommand(infoCmd(a))
	root.AddCommand(doctorCmd(a))
	root.AddCommand(historyCmd(a))
	root.AddCommand(tokenCmd(a))
	root.AddCommand(configCmd(a))
	root.AddCommand(versionCmd())
	return root
}

func serveCmd(a *app) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio by default, streamable HTTP with --http)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, httpAddr)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "listen address for the HTTP transport, e.g. :8080 (overrides MIJIA_HTTP_ADDR)")
	return cmd
}

// runServe blocks until the transport ends or a signal arrives. A signal is
// a clean exit; anything else that stops the transport is an error.
func runServe(parent context.Context, a *app, httpAddr string) error {
	if err := a.load(); err != nil {
		return err
	}
	if httpAddr != "" {
		a.cfg.HTTPAddr = httpAddr
		if err := config.Validate(a.cfg); err != nil {
			return err
		}
	}
	logger := a.logger

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.setupTelemetry(ctx); err != nil {
		logger.Error("telemetry setup failed", "err", err)
		return err
	}
	d, err := a.newDispatcher()
	if err != nil {
		logger.Error("startup failed", "err", err)
		return err
	}
	server, err := mcpserver.New(mcpserver.Options{Registry: tool.Default(), Dispatcher: d, Logger: logger})
	if err != nil {
		logger.Error("startup failed", "err", err)
		return err
	}

	logger.Info("starting MCP server",
		"name", tool.ServerName,
		"version", tool.ServerVersion,
		"interpreter", a.cfg.Interpreter,
		"script_dir", a.cfg.ScriptDir,
		"debug", a.cfg.Debug,
	)

	if a.cfg.HTTPAddr != "" {
		handler := mcpserver.NewHTTPHandler(mcpserver.HTTPOptions{
			Server:     server,
			AuthSecret: a.cfg.AuthSecret,
			Metrics:    metrics.Collector.Handler(),
		})
		err = mcpserver.ListenAndServe(ctx, a.cfg.HTTPAddr, handler, logger)
	} else {
		err = server.Run(ctx, &mcp.StdioTransport{})
	}

	if ctx.Err() != nil {
		logger.Info("received shutdown signal, exiting")
		return nil
	}
	if err != nil {
		logger.Error("server stopped", "err", err)
		return err
	}
	logger.Info("client disconnected")
	return nil
}

func toolsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the server exposes",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := tool.Default()
			out := cmd.OutOrStdout()
			if asJSON {
				type entry struct {
					Name        string `json:"name"`
					Description string `json:"description"`
					Action      string `json:"action,omitempty"`
					InputSchema any    `json:"inputSchema"`
				}
				var entries []entry
				for _, d := range reg.List() {
					entries = append(entries, entry{d.Name, d.Description, d.Action, reg.InputSchema(d.Name)})
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOOL\tACTION\tDESCRIPTION")
			for _, d := range reg.List() {
				action := d.Action
				if action == "" {
					action = "(local)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, action, d.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print names, actions and input schemas as JSON")
	return cmd
}

func callCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Run one tool call and print the result",
		Example: `  mijia-mcp call list_mijia_homes
  mijia-mcp call get_device_status '{"device_name": "Desk lamp"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			var raw json.RawMessage
			if len(args) == 2 {
				raw = json.RawMessage(args[1])
			}
			params, err := mcpserver.DecodeArguments(raw)
			if err != nil {
				return err
			}

			d, err := a.newDispatcher()
			if err != nil {
				return err
			}
			env := d.Dispatch(cmd.Context(), args[0], params)
			if err := printEnvelope(cmd.OutOrStdout(), env); err != nil {
				return err
			}
			if env.IsError() {
				return errCallFailed
			}
			return nil
		},
	}
}

func printEnvelope(w io.Writer, env envelope.Envelope) error {
	text, err := env.Text()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, text)
	return err
}

func infoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the same report as the get_system_info tool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			return printEnvelope(cmd.OutOrStdout(), envelope.Success(a.sysInfo().Collect()))
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tool calls from the audit journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			if a.cfg.AuditDB == "" {
				return fmt.Errorf("no audit journal configured (set %s)", config.EnvAuditDB)
			}
			j, err := audit.Open(a.cfg.AuditDB, a.logger)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTOOL\tRESULT\tELAPSED\tREQUEST")
			for _, e := range entries {
				result := "ok"
				if !e.Success {
					result = "FAIL " + e.ErrorKind
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.ToolName, result, e.ElapsedMS, e.RequestID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	return cmd
}

func tokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			if a.cfg.AuthSecret == "" {
				return fmt.Errorf("no signing secret configured (set %s)", config.EnvAuthSecret)
			}
			token, err := mcpserver.IssueToken([]byte(a.cfg.AuthSecret), subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "mcp-client", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func configCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(config.Sanitize(a.cfg)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", tool.ServerName, tool.ServerVersion)
		},
	}
}
