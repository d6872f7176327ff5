package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Output markers that indicate a transient startup failure worth retrying.
var transientMarkers = []string{
	"eaddrinuse",
	"port already in use",
	"resource temporarily unavailable",
	"connection refused",
}

const (
	startupProbe = 2 * time.Second
	stopGrace    = 5 * time.Second

	// pipeGrace bounds how long Wait may block on output pipes held open by
	// surviving descendants after the process itself is gone.
	pipeGrace = 2 * time.Second
)

// ProcessRegistry tracks background processes started by the agent. It is
// process-wide: entries are shared across connections and keyed by the
// client-chosen process_id.
type ProcessRegistry struct {
	mu    sync.Mutex
	procs map[string]*backgroundProcess
}

func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{procs: make(map[string]*backgroundProcess)}
}

type backgroundProcess struct {
	id      string
	command string
	dir     string
	cmd     *exec.Cmd

	mu     sync.Mutex
	output bytes.Buffer

	done     chan struct{} // closed when the process exits
	exitCode int
}

func (p *backgroundProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output.Write(b)
}

func (p *backgroundProcess) outputString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output.String()
}

// signal targets the whole process group. Signalling only the wrapper shell
// leaves its children running with the output pipe open.
func (p *backgroundProcess) signal(sig syscall.Signal) {
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		p.cmd.Process.Signal(sig)
	}
}

func (p *backgroundProcess) exited() (bool, int) {
	select {
	case <-p.done:
		return true, p.exitCode
	default:
		return false, 0
	}
}

// Start launches a detached child and, after a short liveness probe, records
// it in the registry. Early exits with a transient-looking message come back
// as retryable errors.
func (r *ProcessRegistry) Start(ctx context.Context, id, command, dir string) *Result {
	if id == "" {
		return ErrorResult("process_id is required")
	}

	r.mu.Lock()
	if existing, ok := r.procs[id]; ok {
		if done, _ := existing.exited(); !done {
			r.mu.Unlock()
			return Errorf("process_id %q is already in use", id)
		}
		delete(r.procs, id)
	}
	r.mu.Unlock()

	proc := &backgroundProcess{
		id:      id,
		command: command,
		dir:     dir,
		done:    make(chan struct{}),
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdin = nil // /dev/null
	cmd.Stdout = proc
	cmd.Stderr = proc
	cmd.Env = append(os.Environ(), "CI=true", "FORCE_COLOR=0")
	// Own process group so Stop can signal the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeGrace
	proc.cmd = cmd

	if err := cmd.Start(); err != nil {
		return Errorf("failed to start process: %v", err)
	}
	go func() {
		err := cmd.Wait()
		if exitErr, ok := err.(*exec.ExitError); ok {
			proc.exitCode = exitErr.ExitCode()
		}
		close(proc.done)
	}()

	// Probe: give the child a moment to crash on startup.
	select {
	case <-time.After(startupProbe):
	case <-proc.done:
	case <-ctx.Done():
	}

	if done, code := proc.exited(); done {
		output := proc.outputString()
		lower := strings.ToLower(output)
		for _, marker := range transientMarkers {
			if strings.Contains(lower, marker) {
				return RetryableResult(fmt.Sprintf("process %q exited immediately (code %d): %s", id, code, strings.TrimSpace(output)))
			}
		}
		return Errorf("process %q exited immediately (code %d): %s", id, code, strings.TrimSpace(output))
	}

	r.mu.Lock()
	r.procs[id] = proc
	r.mu.Unlock()

	return NewResult(fmt.Sprintf("started process %q with PID %d: %s", id, cmd.Process.Pid, command))
}

// Stop terminates a background process: TERM, wait, KILL, wait. A process
// that survives both signals is reported as a retryable error and stays in
// the registry.
func (r *ProcessRegistry) Stop(id string) *Result {
	r.mu.Lock()
	proc, ok := r.procs[id]
	r.mu.Unlock()
	if !ok {
		return Errorf("no process found with id %q", id)
	}

	if done, code := proc.exited(); done {
		r.remove(id)
		return NewResult(fmt.Sprintf("process %q had already exited (code: %d)", id, code))
	}

	proc.signal(syscall.SIGTERM)
	select {
	case <-proc.done:
		r.remove(id)
		return NewResult(fmt.Sprintf("stopped process %q", id))
	case <-time.After(stopGrace):
	}

	proc.signal(syscall.SIGKILL)
	select {
	case <-proc.done:
		r.remove(id)
		return NewResult(fmt.Sprintf("killed process %q", id))
	case <-time.After(stopGrace):
		return RetryableResult(fmt.Sprintf("process %q did not terminate after SIGKILL", id))
	}
}

// List renders the registry contents.
func (r *ProcessRegistry) List() *Result {
	r.mu.Lock()
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	if len(ids) == 0 {
		return NewResult("no background processes")
	}

	var b strings.Builder
	for _, id := range ids {
		r.mu.Lock()
		proc := r.procs[id]
		r.mu.Unlock()
		if proc == nil {
			continue
		}
		status := "running"
		if done, code := proc.exited(); done {
			status = fmt.Sprintf("exited (code: %d)", code)
		}
		fmt.Fprintf(&b, "%s: %s (pid %d)\n", id, status, proc.cmd.Process.Pid)
	}
	return NewResult(strings.TrimRight(b.String(), "\n"))
}

func (r *ProcessRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.procs, id)
	r.mu.Unlock()
}

// StartProcessTool launches a long-running command in the background.
type StartProcessTool struct {
	ws       *Workspace
	registry *ProcessRegistry
}

func NewStartProcessTool(ws *Workspace, registry *ProcessRegistry) *StartProcessTool {
	return &StartProcessTool{ws: ws, registry: registry}
}

func (t *StartProcessTool) Name() string { return "start_background_process" }
func (t *StartProcessTool) Description() string {
	return "Start a long-running command in the background, identified by process_id"
}

func (t *StartProcessTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to run",
			},
			"process_id": map[string]any{
				"type":        "string",
				"description": "Unique identifier for the process",
			},
			"cwd": map[string]any{
				"type":        "string",
				"description": "Working directory (default: workspace root)",
			},
		},
		"required": []string{"command", "process_id"},
	}
}

func (t *StartProcessTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	command := stringArg(args, "command")
	if command == "" {
		return ErrorResult("command is required")
	}
	cwd, err := t.ws.Resolve(stringArg(args, "cwd"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	return t.registry.Start(ctx, stringArg(args, "process_id"), command, cwd)
}

// StopProcessTool terminates a background process.
type StopProcessTool struct {
	registry *ProcessRegistry
}

func NewStopProcessTool(registry *ProcessRegistry) *StopProcessTool {
	return &StopProcessTool{registry: registry}
}

func (t *StopProcessTool) Name() string { return "stop_background_process" }
func (t *StopProcessTool) Description() string {
	return "Stop a background process by its process_id"
}

func (t *StopProcessTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"process_id": map[string]any{
				"type":        "string",
				"description": "Identifier of the process to stop",
			},
		},
		"required": []string{"process_id"},
	}
}

func (t *StopProcessTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	return t.registry.Stop(stringArg(args, "process_id"))
}

// ListProcessesTool renders the background process registry.
type ListProcessesTool struct {
	registry *ProcessRegistry
}

func NewListProcessesTool(registry *ProcessRegistry) *ListProcessesTool {
	return &ListProcessesTool{registry: registry}
}

func (t *ListProcessesTool) Name() string { return "list_background_processes" }
func (t *ListProcessesTool) Description() string {
	return "List background processes and their status"
}

func (t *ListProcessesTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ListProcessesTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	return t.registry.List()
}
