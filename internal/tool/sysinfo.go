package tool

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"mijiamcp/internal/envelope"
)

// SysInfo answers get_system_info from the running process. It never starts
// a subprocess.
type SysInfo struct {
	Interpreter string
	ScriptDir   string
	Debug       bool
	// Started is the process start time used for uptime.
	Started time.Time
	// Now is overridable in tests.
	Now func() time.Time
}

func NewSysInfo(interpreter, scriptDir string, debug bool) *SysInfo {
	return &SysInfo{
		Interpreter: interpreter,
		ScriptDir:   scriptDir,
		Debug:       debug,
		Started:     startTime,
		Now:         time.Now,
	}
}

var startTime = time.Now()

// Handle matches the dispatcher's local-handler signature.
func (s *SysInfo) Handle(ctx context.Context, _ map[string]any) (any, error) {
	return s.Collect(), nil
}

// Collect builds the report.
func (s *SysInfo) Collect() map[string]any {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	hostname, _ := os.Hostname()

	rt := map[string]any{
		"timestamp":     now.UTC().Format(envelope.TimestampLayout),
		"platform":      runtime.GOOS,
		"goVersion":     runtime.Version(),
		"architecture":  runtime.GOARCH,
		"uptimeSeconds": int64(now.Sub(s.Started).Seconds()),
		"hostname":      hostname,
		"numCPU":        runtime.NumCPU(),
		"goroutines":    runtime.NumGoroutine(),
	}
	if v := osVersion(); v != "" {
		rt["osVersion"] = v
	}

	return map[string]any{
		"server": map[string]any{
			"name":    ServerName,
			"version": ServerVersion,
		},
		"runtime": rt,
		"environment": map[string]any{
			"pythonPath": s.Interpreter,
			"scriptDir":  s.ScriptDir,
			"debugMode":  s.Debug,
		},
	}
}

// osVersion reads PRETTY_NAME from /etc/os-release on Linux.
func osVersion() string {
	if runtime.GOOS != "linux" {
		return ""
	}
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
		}
	}
	return ""
}
