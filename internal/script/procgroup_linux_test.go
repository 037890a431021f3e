//go:build linux

package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// processGone reports whether pid has exited. A zombie waiting for its new
// parent to reap it counts as gone.
func processGone(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return true
	}
	stat, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	// Field 3 is the state; the command name in field 2 is parenthesised.
	rest := string(stat[strings.LastIndexByte(string(stat), ')')+1:])
	fields := strings.Fields(rest)
	return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
}

func TestInvoke_TimeoutKillsForkedChildren(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "child.pid")
	writeScript(t, dir, "fork.sh", "sleep 30 &\necho $! > '"+pidFile+"'\nwait\n")

	ceiling := 300 * time.Millisecond
	start := time.Now()
	_, err := newTestInvoker(dir, ceiling).Invoke(context.Background(), "fork.sh", nil)
	elapsed := time.Since(start)

	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed >= ceiling+waitDelay {
		t.Fatalf("elapsed %v: the forked child kept the pipes open", elapsed)
	}

	raw, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("child pid not recorded: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("bad pid %q: %v", raw, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !processGone(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("forked child %d survived the timeout", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
