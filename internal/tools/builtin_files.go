package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/netbuddy/taskforge/internal/model"
)

// Tool names, exported so callers (Registry.ForRole, tests) can refer to
// them without repeating string literals.
const (
	ToolReadFile   = "read_file"
	ToolEditFile   = "edit_file"
	ToolCreateFile = "create_file"
	ToolDeleteFile = "delete_file"
	ToolRunCommand = "run_command"
	ToolScanRepo   = "scan_repo"
)

// readFileTool lets an agent inspect a file's current content and
// satisfies the read-before-write policy for a later edit_file call.
type readFileTool struct{}

func (readFileTool) Name() string        { return ToolReadFile }
func (readFileTool) Category() string    { return "perception" }
func (readFileTool) Description() string { return "Read the current content of a repository file." }
func (readFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Repository-relative path to read"},
		},
		"required": []string{"path"},
	}
}

func (readFileTool) Execute(_ context.Context, rc *RunContext, args map[string]any) model.ToolResult {
	path, _ := args["path"].(string)
	abs, err := resolveRepoPath(rc.RepoRoot, path)
	if err != nil {
		return model.Failure(model.ErrorKindPathEscape, err.Error())
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return model.Failure(model.ErrorKindNotFound, fmt.Sprintf("could not read %q: %v", path, err))
	}
	if rc.Policy != nil {
		rc.Policy.RecordRead(path)
	}
	return model.Success(string(content))
}

// editFileTool replaces an exact substring match in an already-read
// file, grounded on manipulation.py's edit_file_snippet.
type editFileTool struct{}

func (editFileTool) Name() string        { return ToolEditFile }
func (editFileTool) Category() string    { return "manipulation" }
func (editFileTool) Description() string {
	return "Replace exact text in a file. The file must have been read first in this step."
}
func (editFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":        map[string]any{"type": "string"},
			"old_content": map[string]any{"type": "string", "description": "Exact text to replace"},
			"new_content": map[string]any{"type": "string"},
		},
		"required": []string{"path", "old_content", "new_content"},
	}
}

func (editFileTool) Execute(_ context.Context, rc *RunContext, args map[string]any) model.ToolResult {
	path, _ := args["path"].(string)
	oldContent, _ := args["old_content"].(string)
	newContent, _ := args["new_content"].(string)

	if rc.Policy != nil && !rc.Policy.CanEdit(path) {
		return model.Failure(model.ErrorKindEditBeforeRead, fmt.Sprintf("must read %q before editing it", path))
	}

	abs, err := resolveRepoPath(rc.RepoRoot, path)
	if err != nil {
		return model.Failure(model.ErrorKindPathEscape, err.Error())
	}

	original, err := os.ReadFile(abs)
	if err != nil {
		return model.Failure(model.ErrorKindNotFound, fmt.Sprintf("could not read %q: %v", path, err))
	}
	if !strings.Contains(string(original), oldContent) {
		return model.Failure(model.ErrorKindContractViolated, "old_content not found in file; must match exactly")
	}
	modified := strings.Replace(string(original), oldContent, newContent, 1)

	if err := os.WriteFile(abs, []byte(modified), 0o644); err != nil {
		return model.Failure(model.ErrorKindTransient, fmt.Sprintf("could not write %q: %v", path, err))
	}

	return model.Success(
		fmt.Sprintf("edited %s", path),
		model.SideEffect{Path: path, Action: model.FileActionUpdate, Bytes: []byte(modified), PriorContent: original},
	)
}

// createFileTool writes a new file, creating parent directories, per
// manipulation.py's create_new_module (minus the Python-specific
// __init__.py boilerplate, which has no language-agnostic analogue).
type createFileTool struct{}

func (createFileTool) Name() string        { return ToolCreateFile }
func (createFileTool) Category() string    { return "manipulation" }
func (createFileTool) Description() string { return "Create a new file, creating parent directories as needed." }
func (createFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string"},
			"content":   map[string]any{"type": "string"},
			"overwrite": map[string]any{"type": "boolean", "default": false},
		},
		"required": []string{"path", "content"},
	}
}

func (createFileTool) Execute(_ context.Context, rc *RunContext, args map[string]any) model.ToolResult {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	overwrite, _ := args["overwrite"].(bool)

	abs, err := resolveRepoPath(rc.RepoRoot, path)
	if err != nil {
		return model.Failure(model.ErrorKindPathEscape, err.Error())
	}

	var prior []byte
	if _, err := os.Stat(abs); err == nil {
		if !overwrite {
			return model.Failure(model.ErrorKindContractViolated, fmt.Sprintf("file %q already exists; set overwrite to replace it", path))
		}
		prior, _ = os.ReadFile(abs)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return model.Failure(model.ErrorKindTransient, fmt.Sprintf("could not create parent directories for %q: %v", path, err))
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return model.Failure(model.ErrorKindTransient, fmt.Sprintf("could not write %q: %v", path, err))
	}

	return model.Success(
		fmt.Sprintf("created %s", path),
		model.SideEffect{Path: path, Action: model.FileActionCreate, Bytes: []byte(content), PriorContent: prior},
	)
}

// deleteFileTool removes a file.
type deleteFileTool struct{}

func (deleteFileTool) Name() string        { return ToolDeleteFile }
func (deleteFileTool) Category() string    { return "manipulation" }
func (deleteFileTool) Description() string { return "Delete a file from the repository." }
func (deleteFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
		"required": []string{"path"},
	}
}

func (deleteFileTool) Execute(_ context.Context, rc *RunContext, args map[string]any) model.ToolResult {
	path, _ := args["path"].(string)
	abs, err := resolveRepoPath(rc.RepoRoot, path)
	if err != nil {
		return model.Failure(model.ErrorKindPathEscape, err.Error())
	}
	prior, _ := os.ReadFile(abs)
	if err := os.Remove(abs); err != nil {
		return model.Failure(model.ErrorKindNotFound, fmt.Sprintf("could not delete %q: %v", path, err))
	}
	return model.Success(
		fmt.Sprintf("deleted %s", path),
		model.SideEffect{Path: path, Action: model.FileActionDelete, PriorContent: prior},
	)
}
