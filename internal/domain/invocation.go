package domain

import "time"

// InvocationRequest is one inbound tool call.
type InvocationRequest struct {
	ToolName string
	Params   map[string]any
}

// ActionCallSpec is the downstream call derived from an InvocationRequest.
type ActionCallSpec struct {
	Script string
	Action string
	Params map[string]any
}

// Args returns the JSON object handed to the script: the caller's parameters
// with "action" set to the forwarded tag. The caller's map is not modified.
func (s ActionCallSpec) Args() map[string]any {
	args := make(map[string]any, len(s.Params)+1)
	for k, v := range s.Params {
		args[k] = v
	}
	args["action"] = s.Action
	return args
}

// SubprocessOutcome captures one finished script run.
type SubprocessOutcome struct {
	ExitedNormally bool
	Stdout         string
	Stderr         string
	Elapsed        time.Duration
}
