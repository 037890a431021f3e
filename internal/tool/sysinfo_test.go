package tool

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"mijiamcp/internal/envelope"
)

func TestSysInfo_Collect(t *testing.T) {
	t.Parallel()
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSysInfo("/usr/bin/python3", "/opt/adapter", true)
	s.Started = started
	s.Now = func() time.Time { return started.Add(90 * time.Second) }

	info := s.Collect()

	server := info["server"].(map[string]any)
	if server["name"] != ServerName || server["version"] != ServerVersion {
		t.Errorf("unexpected server block: %v", server)
	}

	rt := info["runtime"].(map[string]any)
	if rt["platform"] != runtime.GOOS || rt["architecture"] != runtime.GOARCH {
		t.Errorf("unexpected runtime block: %v", rt)
	}
	if rt["uptimeSeconds"] != int64(90) {
		t.Errorf("uptimeSeconds = %v, want 90", rt["uptimeSeconds"])
	}
	if rt["timestamp"] != "2026-01-01T00:01:30.000Z" {
		t.Errorf("timestamp = %v", rt["timestamp"])
	}
	failed := envelope.FailureAt(errors.New("x"), SystemInfoTool, started.Add(90*time.Second))
	if want := failed.Timestamp.Format(envelope.TimestampLayout); rt["timestamp"] != want {
		t.Errorf("timestamp %v, want envelope format %v", rt["timestamp"], want)
	}
	if rt["goVersion"] != runtime.Version() {
		t.Errorf("goVersion = %v", rt["goVersion"])
	}

	env := info["environment"].(map[string]any)
	if env["pythonPath"] != "/usr/bin/python3" || env["scriptDir"] != "/opt/adapter" || env["debugMode"] != true {
		t.Errorf("unexpected environment block: %v", env)
	}
}

func TestSysInfo_Handle(t *testing.T) {
	t.Parallel()
	out, err := NewSysInfo("python", "./adapter", false).Handle(context.Background(), map[string]any{"ignored": 1})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, ok := out.(map[string]any)["runtime"]; !ok {
		t.Fatalf("missing runtime block: %v", out)
	}
}
