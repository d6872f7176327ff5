package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/projectx/agentx/internal/sandbox"
)

// Workspace resolves tool path arguments. Relative paths are anchored at the
// sandbox root, then everything goes through the validator.
type Workspace struct {
	Root      string
	Validator *sandbox.Validator
}

func NewWorkspace(root string, validator *sandbox.Validator) *Workspace {
	return &Workspace{Root: root, Validator: validator}
}

// Resolve validates a path argument. An empty path resolves to the root.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	if !filepath.IsAbs(path) && !strings.HasPrefix(path, "~") {
		path = filepath.Join(w.Root, path)
	}
	return w.Validator.Validate(path)
}

// ReadFileTool reads a file, optionally a 1-based inclusive line range.
type ReadFileTool struct {
	ws *Workspace
}

func NewReadFileTool(ws *Workspace) *ReadFileTool { return &ReadFileTool{ws: ws} }

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Read the contents of a file, optionally restricted to a line range"
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read",
			},
			"start_line": map[string]any{
				"type":        "integer",
				"description": "First line to include (1-based, default 1)",
			},
			"end_line": map[string]any{
				"type":        "integer",
				"description": "Last line to include (1-based inclusive, default EOF)",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	path, err := t.ws.Resolve(stringArg(args, "file_path"))
	if err != nil {
		return ErrorResult(err.Error())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("failed to read %s: %v", path, err)
	}

	content := string(data)
	lines := strings.Split(content, "\n")
	total := len(lines)

	start := intArg(args, "start_line", 1)
	end := intArg(args, "end_line", total)
	if start < 1 {
		start = 1
	}
	if end > total {
		end = total
	}
	if start > end {
		return Errorf("invalid line range %d-%d (file has %d lines)", start, end, total)
	}
	selected := strings.Join(lines[start-1:end], "\n")

	return NewResult(map[string]any{
		"content":    selected,
		"lines":      end - start + 1,
		"size_bytes": len(data),
		"path":       path,
	})
}

// WriteFileTool writes content to a file, creating parents by default.
type WriteFileTool struct {
	ws *Workspace
}

func NewWriteFileTool(ws *Workspace) *WriteFileTool { return &WriteFileTool{ws: ws} }

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating parent directories as needed"
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Content to write",
			},
			"create_dirs": map[string]any{
				"type":        "boolean",
				"description": "Create missing parent directories (default true)",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	path, err := t.ws.Resolve(stringArg(args, "file_path"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	content, _ := args["content"].(string)

	if boolArg(args, "create_dirs", true) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Errorf("failed to create directories for %s: %v", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return Errorf("failed to write %s: %v", path, err)
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// EditFileTool replaces the first occurrence of a string in a file.
type EditFileTool struct {
	ws *Workspace
}

func NewEditFileTool(ws *Workspace) *EditFileTool { return &EditFileTool{ws: ws} }

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace the first occurrence of a string in a file"
}

func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"old_string": map[string]any{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"new_string": map[string]any{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	path, err := t.ws.Resolve(stringArg(args, "file_path"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	oldStr := stringArg(args, "old_string")
	newStr := stringArg(args, "new_string")
	if oldStr == "" {
		return ErrorResult("old_string is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("failed to read %s: %v", path, err)
	}
	content := string(data)
	if !strings.Contains(content, oldStr) {
		return Errorf("Could not find old_content in %s", path)
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return Errorf("failed to write %s: %v", path, err)
	}
	return NewResult(fmt.Sprintf("replaced first occurrence in %s", path))
}

// FileExistsTool reports whether a path exists.
type FileExistsTool struct {
	ws *Workspace
}

func NewFileExistsTool(ws *Workspace) *FileExistsTool { return &FileExistsTool{ws: ws} }

func (t *FileExistsTool) Name() string        { return "file_exists" }
func (t *FileExistsTool) Description() string { return "Check whether a file or directory exists" }

func (t *FileExistsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path to check",
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *FileExistsTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	path, err := t.ws.Resolve(stringArg(args, "file_path"))
	if err != nil {
		return ErrorResult(err.Error())
	}
	_, statErr := os.Stat(path)
	return NewResult(statErr == nil)
}

// WorkingDirectoryTool returns the sandbox root.
type WorkingDirectoryTool struct {
	ws *Workspace
}

func NewWorkingDirectoryTool(ws *Workspace) *WorkingDirectoryTool {
	return &WorkingDirectoryTool{ws: ws}
}

func (t *WorkingDirectoryTool) Name() string        { return "get_working_directory" }
func (t *WorkingDirectoryTool) Description() string { return "Return the current working directory" }

func (t *WorkingDirectoryTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *WorkingDirectoryTool) Execute(ctx context.Context, turn *Turn, args map[string]any) *Result {
	return NewResult(t.ws.Root)
}
