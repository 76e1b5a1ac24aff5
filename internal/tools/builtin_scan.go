package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/netbuddy/taskforge/internal/model"
)

// scanRepoTool lists repository files under a path, giving an agent
// enough perception of the tree to decide what to read next. Grounded
// on original_source/libs/gravity_core/tools/perception.py's directory
// walk, without its Python-project-specific ignore heuristics.
type scanRepoTool struct{}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".venv": true,
	"__pycache__": true, "dist": true, "build": true,
}

func (scanRepoTool) Name() string        { return ToolScanRepo }
func (scanRepoTool) Category() string    { return "perception" }
func (scanRepoTool) Description() string { return "List files under a repository-relative directory." }
func (scanRepoTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":       map[string]any{"type": "string", "default": "."},
			"max_depth":  map[string]any{"type": "integer", "default": 4},
			"max_entries": map[string]any{"type": "integer", "default": 500},
		},
	}
}

func (scanRepoTool) Execute(_ context.Context, rc *RunContext, args map[string]any) model.ToolResult {
	rel, _ := args["path"].(string)
	if rel == "" {
		rel = "."
	}
	maxDepth := intArg(args, "max_depth", 4)
	maxEntries := intArg(args, "max_entries", 500)

	root, err := resolveRepoPath(rc.RepoRoot, rel)
	if err != nil {
		return model.Failure(model.ErrorKindPathEscape, err.Error())
	}

	var entries []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		relPath, _ := filepath.Rel(rc.RepoRoot, path)
		depth := strings.Count(relPath, string(filepath.Separator))
		if info.IsDir() {
			if skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			if depth >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= maxEntries {
			return filepath.SkipAll
		}
		entries = append(entries, relPath)
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return model.Failure(model.ErrorKindTransient, fmt.Sprintf("scan failed: %v", err))
	}

	sort.Strings(entries)
	return model.Success(strings.Join(entries, "\n"))
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}
