package tools

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCommand(t *testing.T) {
	ws := newTestWorkspace(t)
	turn, _ := newTestTurn()
	tool := NewRunCommandTool(ws)

	t.Run("captures stdout and exit code", func(t *testing.T) {
		res := tool.Execute(context.Background(), turn, map[string]any{"command": "echo hello"})
		if res.IsError {
			t.Fatalf("error: %v", res.Value)
		}
		m := res.Value.(map[string]any)
		if m["stdout"] != "hello\n" || m["return_code"] != 0 {
			t.Errorf("result = %v", m)
		}
	})

	t.Run("non-zero exit is data, not error", func(t *testing.T) {
		res := tool.Execute(context.Background(), turn, map[string]any{"command": "echo oops >&2; exit 3"})
		if res.IsError {
			t.Fatalf("error: %v", res.Value)
		}
		m := res.Value.(map[string]any)
		if m["return_code"] != 3 || !strings.Contains(m["stderr"].(string), "oops") {
			t.Errorf("result = %v", m)
		}
	})

	t.Run("runs in workspace root", func(t *testing.T) {
		want, err := ws.Resolve("")
		if err != nil {
			t.Fatal(err)
		}
		res := tool.Execute(context.Background(), turn, map[string]any{"command": "pwd"})
		m := res.Value.(map[string]any)
		if got := strings.TrimSpace(m["stdout"].(string)); got != want {
			t.Errorf("pwd = %q, want %q", got, want)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		res := tool.Execute(context.Background(), turn, map[string]any{
			"command": "sleep 5", "timeout": float64(1),
		})
		if !res.IsError {
			t.Fatal("expected timeout error")
		}
		if !strings.Contains(res.Value.(string), "timed out") {
			t.Errorf("message = %v", res.Value)
		}
	})

	t.Run("timeout kills background children", func(t *testing.T) {
		// A backgrounded child inherits the output pipe; the deadline must
		// take down the whole tree, not just the wrapper shell.
		begin := time.Now()
		res := tool.Execute(context.Background(), turn, map[string]any{
			"command": "sleep 30 & sleep 31", "timeout": float64(1),
		})
		if !res.IsError || !strings.Contains(res.Value.(string), "timed out") {
			t.Fatalf("result = %+v", res)
		}
		if elapsed := time.Since(begin); elapsed > 10*time.Second {
			t.Errorf("run_command blocked for %s past its deadline", elapsed)
		}
	})

	t.Run("cwd outside workspace rejected", func(t *testing.T) {
		res := tool.Execute(context.Background(), turn, map[string]any{
			"command": "pwd", "cwd": "/etc",
		})
		if !res.IsError {
			t.Error("expected error")
		}
	})

	t.Run("missing command", func(t *testing.T) {
		res := tool.Execute(context.Background(), turn, map[string]any{})
		if !res.IsError {
			t.Error("expected error")
		}
	})
}

func TestRunGitCommand(t *testing.T) {
	ws := newTestWorkspace(t)
	turn, _ := newTestTurn()
	tool := NewRunGitCommandTool(ws)

	t.Run("failure surfaces stderr", func(t *testing.T) {
		// Outside a repository, git status fails with a message on stderr.
		res := tool.Execute(context.Background(), turn, map[string]any{"git_command": "status"})
		if !res.IsError {
			t.Skip("workspace unexpectedly inside a git repository")
		}
		if res.Value.(string) == "" {
			t.Error("error message empty")
		}
	})

	t.Run("success returns stdout", func(t *testing.T) {
		res := tool.Execute(context.Background(), turn, map[string]any{"git_command": "--version"})
		if res.IsError {
			t.Fatalf("error: %v", res.Value)
		}
		if !strings.Contains(res.Value.(string), "git version") {
			t.Errorf("stdout = %v", res.Value)
		}
	})
}

func TestRunTestsBuildsPytestCommand(t *testing.T) {
	ws := newTestWorkspace(t)
	turn, _ := newTestTurn()
	tool := NewRunTestsTool(ws)

	res := tool.Execute(context.Background(), turn, map[string]any{"test_path": "tests/unit"})
	if res.IsError {
		t.Fatalf("error: %v", res.Value)
	}
	m := res.Value.(map[string]any)
	if m["command"] != "pytest tests/unit -v" {
		t.Errorf("command = %v", m["command"])
	}
}
