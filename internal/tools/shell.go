package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const defaultCommandTimeout = 300 * time.Second

// RunCommandTool executes a shell command inside the workspace.
type RunCommandTool struct {
	ws      *Workspace
	timeout time.Duration
}

func NewRunCommandTool(ws *Workspace) *RunCommandTool {
	return &RunCommandTool{ws: ws, timeout: defaultCommandTimeout}
}

func (t *RunCommandTool) Name() string { return "run_command" }
func (t *RunCommandTool) Description() string {
	return "Execute a shell command and return stdout, stderr and the exit code"
}

func (t *RunCommandTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory (default: workspace root)",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds (default 300)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	command := stringArg(args, "command")
	if command == "" {
		return ErrorResult("command is required")
	}
	cwd, err := t.ws.Resolve(stringArg(args, "cwd"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	timeout := t.timeout
	if secs := intArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	stdout, stderr, code, err := runShell(ctx, command, cwd, timeout)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(map[string]any{
		"stdout":      stdout,
		"stderr":      stderr,
		"return_code": code,
		"command":     command,
	})
}

// RunGitCommandTool runs a git subcommand. Unlike run_command, a non-zero
// exit is a tool error carrying the stderr output.
type RunGitCommandTool struct {
	ws *Workspace
}

func NewRunGitCommandTool(ws *Workspace) *RunGitCommandTool {
	return &RunGitCommandTool{ws: ws}
}

func (t *RunGitCommandTool) Name() string { return "run_git_command" }
func (t *RunGitCommandTool) Description() string {
	return "Run a git command (without the leading 'git') in the workspace"
}

func (t *RunGitCommandTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"git_command": map[string]any{
				"type":        "string",
				"description": "The git subcommand and arguments, e.g. 'status --short'",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory (default: workspace root)",
			},
		},
		"required": []string{"git_command"},
	}
}

func (t *RunGitCommandTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	gitCommand := stringArg(args, "git_command")
	if gitCommand == "" {
		return ErrorResult("git_command is required")
	}
	cwd, err := t.ws.Resolve(stringArg(args, "cwd"))
	if err != nil {
		return ErrorResult(err.Error())
	}

	stdout, stderr, code, err := runShell(ctx, "git "+gitCommand, cwd, defaultCommandTimeout)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if code != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = fmt.Sprintf("git exited with code %d", code)
		}
		return ErrorResult(msg)
	}
	return NewResult(stdout)
}

// RunTestsTool wraps run_command around pytest.
type RunTestsTool struct {
	ws *Workspace
}

func NewRunTestsTool(ws *Workspace) *RunTestsTool { return &RunTestsTool{ws: ws} }

func (t *RunTestsTool) Name() string { return "run_tests" }
func (t *RunTestsTool) Description() string {
	return "Run the project's test suite with pytest"
}

func (t *RunTestsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"test_path": map[string]any{
				"type":        "string",
				"description": "Path to a test file or directory (default tests/)",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory (default: workspace root)",
			},
			"verbose": map[string]any{
				"type":        "boolean",
				"description": "Pass -v to pytest (default true)",
			},
		},
	}
}

func (t *RunTestsTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	testPath := stringArg(args, "test_path")
	if testPath == "" {
		testPath = "tests/"
	}
	cwd, err := t.ws.Resolve(stringArg(args, "cwd"))
	if err != nil {
		return ErrorResult(err.Error())
	}

	command := "pytest " + testPath
	if boolArg(args, "verbose", true) {
		command += " -v"
	}

	stdout, stderr, code, err := runShell(ctx, command, cwd, defaultCommandTimeout)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(map[string]any{
		"stdout":      stdout,
		"stderr":      stderr,
		"return_code": code,
		"command":     command,
	})
}

// runShell runs `sh -c command` in cwd. A deadline overrun kills the process
// and returns a timeout error; any other non-zero exit is reported through
// the returned code, not the error.
func runShell(ctx context.Context, command, cwd string, timeout time.Duration) (stdout, stderr string, code int, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	// Own process group so the deadline kills the whole tree, and bound the
	// pipe wait in case a surviving descendant holds stdout open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = pipeGrace

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return "", "", 0, fmt.Errorf("command timed out after %s", timeout)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdout, stderr, exitErr.ExitCode(), nil
		}
		if errors.Is(runErr, exec.ErrWaitDelay) {
			// The command itself exited cleanly; only the pipe lingered.
			return stdout, stderr, 0, nil
		}
		return "", "", 0, fmt.Errorf("failed to run command: %w", runErr)
	}
	return stdout, stderr, 0, nil
}
