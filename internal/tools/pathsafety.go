package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/netbuddy/taskforge/internal/model"
)

// resolveRepoPath resolves a repo-relative (or accidentally absolute)
// path against repoRoot and rejects any result that escapes it, per
// §4.4's "any resolved path that escapes the root causes the tool to
// fail with path_escape."
func resolveRepoPath(repoRoot, path string) (string, error) {
	cleaned := filepath.Clean(path)
	var abs string
	if filepath.IsAbs(cleaned) {
		abs = cleaned
	} else {
		abs = filepath.Join(repoRoot, cleaned)
	}

	rootAbs, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", fmt.Errorf("resolve repo root: %w", err)
	}
	absClean := filepath.Clean(abs)

	rel, err := filepath.Rel(rootAbs, absClean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", model.NewError(model.ErrorKindPathEscape, fmt.Sprintf("path %q escapes repository root", path))
	}
	return absClean, nil
}

// dangerousCommandPatterns is the closed blocklist of substrings that
// mark a shell command as unsafe to run inside the sandbox, per §4.4.
var dangerousCommandPatterns = []string{
	"rm -rf /",
	"rm -rf /*",
	"mkfs",
	"dd if=",
	":(){:|:&};:",
	"chmod 777 /",
	"curl | sh",
	"curl | bash",
	"wget | sh",
	"wget | bash",
	"> /dev/sda",
}

func isDangerousCommand(command string) (string, bool) {
	for _, pattern := range dangerousCommandPatterns {
		if strings.Contains(command, pattern) {
			return pattern, true
		}
		// A piped pattern such as "curl | sh" also matches when arguments
		// sit between the first command and the pipe ("curl URL | sh").
		if head, tail, piped := strings.Cut(pattern, " | "); piped {
			if i := strings.Index(command, head); i >= 0 && strings.Contains(command[i:], "| "+tail) {
				return pattern, true
			}
		}
	}
	return "", false
}
