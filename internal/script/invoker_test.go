package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const shell = "/bin/sh"

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(shell); err != nil {
		t.Skipf("%s not available: %v", shell, err)
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestInvoker(dir string, timeout time.Duration) *Invoker {
	return NewInvoker(Config{
		Interpreter: shell,
		BaseDir:     dir,
		Timeout:     timeout,
		Logger:      slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
}

func TestInvoke_EchoesArguments(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "echo.sh", `printf '%s\n' "$1"`)

	inv := newTestInvoker(dir, 5*time.Second)
	got, err := inv.Invoke(context.Background(), "echo.sh", map[string]any{"action": "list_homes", "home_id": "h1"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	obj, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", got)
	}
	if obj["action"] != "list_homes" || obj["home_id"] != "h1" {
		t.Fatalf("unexpected payload: %v", obj)
	}
}

func TestInvoke_PreservesNumbers(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "num.sh", `echo '{"big": 12345678901234567890, "f": 0.5}'`)

	got, err := newTestInvoker(dir, 5*time.Second).Invoke(context.Background(), "num.sh", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	out, _ := json.Marshal(got)
	if !strings.Contains(string(out), "12345678901234567890") {
		t.Fatalf("large integer lost precision: %s", out)
	}
}

func TestInvoke_AbsoluteScriptPath(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	abs := writeScript(t, dir, "abs.sh", `echo '[1,2,3]'`)

	inv := newTestInvoker(t.TempDir(), 5*time.Second) // base dir is elsewhere
	got, err := inv.Invoke(context.Background(), abs, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if arr, ok := got.([]any); !ok || len(arr) != 3 {
		t.Fatalf("unexpected payload: %#v", got)
	}
}

func TestInvoke_StderrIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "warn.sh", "echo 'deprecated call' >&2\necho '{\"ok\": true}'\n")

	var logs bytes.Buffer
	inv := NewInvoker(Config{
		Interpreter: shell,
		BaseDir:     dir,
		Timeout:     5 * time.Second,
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
	})
	got, err := inv.Invoke(context.Background(), "warn.sh", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.(map[string]any)["ok"] != true {
		t.Fatalf("unexpected payload: %v", got)
	}
	if !strings.Contains(logs.String(), "script wrote to stderr") || !strings.Contains(logs.String(), "deprecated call") {
		t.Fatalf("expected stderr warning in logs, got: %s", logs.String())
	}
}

func TestInvoke_NonZeroExit(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "fail.sh", "echo 'device offline' >&2\nexit 3\n")

	_, err := newTestInvoker(dir, 5*time.Second).Invoke(context.Background(), "fail.sh", nil)
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if invErr.Kind != KindExit {
		t.Fatalf("Kind = %s, want %s", invErr.Kind, KindExit)
	}
	if !strings.Contains(invErr.Error(), "code 3") || invErr.Stderr != "device offline" {
		t.Fatalf("unexpected error detail: %v (stderr %q)", invErr, invErr.Stderr)
	}
}

func TestInvoke_TimeoutIsBounded(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "hang.sh", "exec sleep 5\n")

	ceiling := 200 * time.Millisecond
	start := time.Now()
	_, err := newTestInvoker(dir, ceiling).Invoke(context.Background(), "hang.sh", nil)
	elapsed := time.Since(start)

	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should wrap context.DeadlineExceeded: %v", err)
	}
	if elapsed < ceiling || elapsed > 3*time.Second {
		t.Fatalf("elapsed %v outside [%v, 3s]", elapsed, ceiling)
	}
}

func TestInvoke_EmptyOutput(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "quiet.sh", "printf '  \\n\\t\\n'\n")

	_, err := newTestInvoker(dir, 5*time.Second).Invoke(context.Background(), "quiet.sh", nil)
	if KindOf(err) != KindEmptyOutput {
		t.Fatalf("expected empty_output, got %v", err)
	}
}

func TestInvoke_MalformedOutput(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "text.sh", "echo 'Traceback (most recent call last):'\n")
	writeScript(t, dir, "two.sh", "echo '{\"a\":1}'\necho '{\"b\":2}'\n")

	inv := newTestInvoker(dir, 5*time.Second)
	for _, name := range []string{"text.sh", "two.sh"} {
		_, err := inv.Invoke(context.Background(), name, nil)
		if KindOf(err) != KindMalformedOutput {
			t.Errorf("%s: expected malformed_output, got %v", name, err)
		}
	}
}

func TestInvoke_MissingScript(t *testing.T) {
	t.Parallel()
	_, err := newTestInvoker(t.TempDir(), time.Second).Invoke(context.Background(), "mijia_tool.py", nil)
	if KindOf(err) != KindPathResolution {
		t.Fatalf("expected path_resolution, got %v", err)
	}
}

func TestInvoke_InterpreterNotFound(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeScript(t, dir, "ok.sh", "echo '{}'\n")

	inv := NewInvoker(Config{
		Interpreter: filepath.Join(dir, "no-such-python"),
		BaseDir:     dir,
		Timeout:     time.Second,
	})
	_, err := inv.Invoke(context.Background(), "ok.sh", nil)
	if KindOf(err) != KindSpawn {
		t.Fatalf("expected spawn, got %v", err)
	}
}

func TestInvoke_ParentCanceled(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	writeScript(t, dir, "hang.sh", "exec sleep 5\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := newTestInvoker(dir, 10*time.Second).Invoke(ctx, "hang.sh", nil)
	if KindOf(err) != KindCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	want := writeScript(t, dir, "mijia_tool.py", "")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	inv := newTestInvoker(dir, time.Second)
	got, err := inv.ResolvePath("mijia_tool.py")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if got != want {
		t.Fatalf("ResolvePath = %q, want %q", got, want)
	}
	if !filepath.IsAbs(got) {
		t.Fatalf("expected absolute path, got %q", got)
	}

	for _, bad := range []string{"", "sub", "missing.py"} {
		if _, err := inv.ResolvePath(bad); KindOf(err) != KindPathResolution {
			t.Errorf("ResolvePath(%q): expected path_resolution, got %v", bad, err)
		}
	}
}

func TestResolvePath_RelativeBaseDir(t *testing.T) {
	// Chdir affects the whole process; not parallel.
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "adapter"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeScript(t, filepath.Join(dir, "adapter"), "mijia_tool.py", "")
	t.Chdir(dir)

	inv := NewInvoker(Config{Interpreter: shell, BaseDir: "./adapter"})
	got, err := inv.ResolvePath("mijia_tool.py")
	if err != nil {
		t.Fatalf("ResolvePath: %v", err)
	}
	if !filepath.IsAbs(got) || filepath.Base(filepath.Dir(got)) != "adapter" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestInvoke_ConcurrencyCap(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "started")
	writeScript(t, dir, "slow.sh", "touch '"+marker+"'\nexec sleep 2\n")
	writeScript(t, dir, "fast.sh", "echo '{}'\n")

	inv := NewInvoker(Config{Interpreter: shell, BaseDir: dir, Timeout: 10 * time.Second, MaxConcurrent: 1})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = inv.Invoke(context.Background(), "slow.sh", nil)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slow script never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The only slot is held, so this call has to queue and gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := inv.Invoke(ctx, "fast.sh", nil)
	if KindOf(err) != KindCanceled {
		t.Fatalf("expected canceled while queued, got %v", err)
	}
	wg.Wait()

	if _, err := inv.Invoke(context.Background(), "fast.sh", nil); err != nil {
		t.Fatalf("slot should be free again: %v", err)
	}
}

func TestInvoke_QueueWaitIsOutsideTheCeiling(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "started")
	writeScript(t, dir, "hold.sh", "touch '"+marker+"'\nsleep 0.8\necho '{}'\n")

	ceiling := time.Second
	inv := NewInvoker(Config{Interpreter: shell, BaseDir: dir, Timeout: ceiling, MaxConcurrent: 1})

	done := make(chan error, 1)
	go func() {
		_, err := inv.Invoke(context.Background(), "hold.sh", nil)
		done <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("holding script never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Queued behind hold.sh, then sleeps past the point where queue wait plus
	// run time exceeds the ceiling.
	writeScript(t, dir, "late.sh", "sleep 0.5\necho '{\"ok\": true}'\n")
	start := time.Now()
	got, err := inv.Invoke(context.Background(), "late.sh", nil)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("queued call failed: %v", err)
	}
	if obj, _ := got.(map[string]any); obj["ok"] != true {
		t.Fatalf("unexpected payload: %v", got)
	}
	if elapsed <= ceiling {
		t.Fatalf("elapsed %v: expected the queued call to exceed the ceiling end to end", elapsed)
	}
	if err := <-done; err != nil {
		t.Fatalf("holding call: %v", err)
	}
}

func TestInvocationError_Format(t *testing.T) {
	t.Parallel()
	e := &InvocationError{Kind: KindExit, Message: "script exited with code 1", Stderr: "boom"}
	if got := e.Error(); got != "script exited with code 1 (stderr: boom)" {
		t.Fatalf("Error = %q", got)
	}
	if e.ErrorKind() != "exit" {
		t.Fatalf("ErrorKind = %q", e.ErrorKind())
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain errors have no kind")
	}
}
