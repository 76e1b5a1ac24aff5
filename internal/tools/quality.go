package tools

import "strings"

// The closed quality-check-name set, taken from
// original_source/backend/app/schemas/reality.py's quality-check
// vocabulary and generalized from its Python-specific warning strings
// (todo_without_implementation, missing_type_hints) to the
// language-agnostic names below, per the recorded Open Question
// decision.
const (
	checkFileExists            = "file_exists"
	checkFileNotEmpty          = "file_not_empty"
	checkNoPassOnlyFunctions   = "no_pass_only_functions"
	checkAllQualityChecksPass  = "all_quality_checks_passed"
	warnIncomplete             = "quality_warning_incomplete"
	warnUndocumented           = "quality_warning_undocumented"
)

// runQualityChecks is best-effort and non-blocking: it never fails a
// write, per §4.4. It returns the checks that passed and any warnings.
func runQualityChecks(path string, content []byte) (checks []string, warnings []string) {
	checks = append(checks, checkFileExists)
	if len(content) > 0 {
		checks = append(checks, checkFileNotEmpty)
	}

	text := string(content)
	if !hasOnlyStubBodies(text) {
		checks = append(checks, checkNoPassOnlyFunctions)
	} else {
		warnings = append(warnings, warnIncomplete)
	}

	if isSourceFile(path) && !hasAnyComment(text) {
		warnings = append(warnings, warnUndocumented)
	}

	if len(warnings) == 0 {
		checks = append(checks, checkAllQualityChecksPass)
	}
	return checks, warnings
}

// hasOnlyStubBodies is a lightweight, language-agnostic heuristic for
// "declared substantive but left unimplemented": a body consisting only
// of a stub marker (pass, TODO, NotImplemented) and nothing else.
func hasOnlyStubBodies(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	lines := strings.Split(trimmed, "\n")
	nonBlank := 0
	stubby := 0
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if l == "" {
			continue
		}
		nonBlank++
		switch {
		case l == "pass", l == "...", strings.Contains(l, "TODO"), strings.Contains(l, "NotImplementedError"),
			strings.Contains(l, "not implemented"), strings.HasPrefix(l, "//") || strings.HasPrefix(l, "#"):
			stubby++
		}
	}
	return nonBlank > 0 && stubby == nonBlank
}

func hasAnyComment(text string) bool {
	return strings.Contains(text, "//") || strings.Contains(text, "#") || strings.Contains(text, "/*")
}

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".rb": true, ".rs": true, ".c": true, ".cpp": true, ".h": true,
}

func isSourceFile(path string) bool {
	for ext := range sourceExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
