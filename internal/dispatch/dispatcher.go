// Package dispatch routes a tool call to its handler: forwarded tools go to
// the backend script with their action tag, local tools run in-process.
// Every call yields exactly one envelope.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mijiamcp/internal/domain"
	"mijiamcp/internal/envelope"
	"mijiamcp/internal/metrics"
	"mijiamcp/internal/tool"
)

// ErrUnknownTool is returned for names missing from the registry.
var ErrUnknownTool = errors.New("unknown tool")

// Failure kinds assigned by the dispatcher itself; script failures carry
// their own kind.
const (
	KindUnknownTool      = "unknown_tool"
	KindInvalidArguments = "invalid_arguments"
)

// Invoker runs the backend script.
type Invoker interface {
	Invoke(ctx context.Context, script string, params map[string]any) (any, error)
}

// LocalHandler answers a tool without a subprocess.
type LocalHandler func(ctx context.Context, params map[string]any) (any, error)

type Options struct {
	Registry *tool.Registry
	Invoker  Invoker
	// Script is the backend every forwarded action goes to.
	Script string
	Locals map[string]LocalHandler
	// Strict validates arguments against the tool's schema before handling.
	Strict  bool
	Journal domain.AuditJournal // optional
	Logger  *slog.Logger
}

type Dispatcher struct {
	registry *tool.Registry
	invoker  Invoker
	script   string
	locals   map[string]LocalHandler
	strict   bool
	journal  domain.AuditJournal
	logger   *slog.Logger
}

// New checks that every registered tool has somewhere to go.
func New(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("dispatch: registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	locals := make(map[string]LocalHandler, len(opts.Locals))
	for name, h := range opts.Locals {
		locals[name] = h
	}
	for _, d := range opts.Registry.List() {
		if d.Forwarded() {
			if opts.Invoker == nil {
				return nil, fmt.Errorf("dispatch: tool %s is forwarded but no invoker is configured", d.Name)
			}
			if opts.Script == "" {
				return nil, fmt.Errorf("dispatch: tool %s is forwarded but no script is configured", d.Name)
			}
			continue
		}
		if locals[d.Name] == nil {
			return nil, fmt.Errorf("dispatch: no local handler for tool %s", d.Name)
		}
	}
	return &Dispatcher{
		registry: opts.Registry,
		invoker:  opts.Invoker,
		script:   opts.Script,
		locals:   locals,
		strict:   opts.Strict,
		journal:  opts.Journal,
		logger:   opts.Logger.With("component", "dispatch"),
	}, nil
}

// CallSpec derives the backend call for a forwarded tool.
func (d *Dispatcher) CallSpec(req domain.InvocationRequest) (domain.ActionCallSpec, error) {
	desc, ok := d.registry.Lookup(req.ToolName)
	if !ok {
		return domain.ActionCallSpec{}, fmt.Errorf("%w: %s", ErrUnknownTool, req.ToolName)
	}
	if !desc.Forwarded() {
		return domain.ActionCallSpec{}, fmt.Errorf("tool %s is handled locally", req.ToolName)
	}
	return domain.ActionCallSpec{Script: d.script, Action: desc.Action, Params: req.Params}, nil
}

// Dispatch handles one call. It never returns an error: failures are
// failure envelopes.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]any) envelope.Envelope {
	requestID := uuid.NewString()
	logger := d.logger.With("request_id", requestID, "tool", name)
	start := time.Now()

	if params == nil {
		params = map[string]any{}
	}
	req := domain.InvocationRequest{ToolName: name, Params: params}

	desc, known := d.registry.Lookup(name)
	metricName := name
	if !known {
		metricName = KindUnknownTool
	}
	metrics.ToolCalls(metricName).Inc()

	env := d.handle(ctx, req, desc, known, logger)
	elapsed := time.Since(start)

	if env.IsError() {
		metrics.ToolFailures(metricName, env.Kind).Inc()
		logger.Warn("tool call failed", "kind", env.Kind, "error", env.Message, "elapsed", elapsed)
	} else {
		logger.Debug("tool call succeeded", "elapsed", elapsed)
	}

	d.record(ctx, logger, domain.AuditEntry{
		RequestID: requestID,
		ToolName:  name,
		Action:    desc.Action,
		Success:   env.Success,
		ErrorKind: env.Kind,
		Message:   env.Message,
		ElapsedMS: elapsed.Milliseconds(),
		CreatedAt: start,
	})
	return env
}

func (d *Dispatcher) handle(ctx context.Context, req domain.InvocationRequest, desc domain.ToolDescriptor, known bool, logger *slog.Logger) envelope.Envelope {
	if !known {
		env := envelope.Failure(fmt.Errorf("%w: %s", ErrUnknownTool, req.ToolName), req.ToolName)
		env.Kind = KindUnknownTool
		return env
	}

	if d.strict {
		if err := d.registry.Validate(req.ToolName, req.Params); err != nil {
			env := envelope.Failure(err, req.ToolName)
			env.Kind = KindInvalidArguments
			return env
		}
	}

	var (
		payload any
		err     error
	)
	if desc.Forwarded() {
		call, callErr := d.CallSpec(req)
		if callErr != nil {
			return envelope.Failure(callErr, req.ToolName)
		}
		logger.Debug("forwarding tool call", "action", call.Action, "script", call.Script)
		payload, err = d.invoker.Invoke(ctx, call.Script, call.Args())
	} else {
		payload, err = d.locals[req.ToolName](ctx, req.Params)
	}
	if err != nil {
		return envelope.Failure(err, req.ToolName)
	}
	return envelope.Success(payload)
}

// record writes the journal row. The write outlives caller cancellation;
// errors are only logged.
func (d *Dispatcher) record(ctx context.Context, logger *slog.Logger, entry domain.AuditEntry) {
	if d.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.journal.Record(ctx, entry); err != nil {
		logger.Warn("cannot write audit entry", "error", err)
	}
}
