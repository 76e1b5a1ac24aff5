package tools

import (
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/netbuddy/taskforge/internal/metrics"
	"github.com/netbuddy/taskforge/internal/model"
)

// Verifier checks a tool's declared SideEffects against the actual
// filesystem state, per §4.4. It never mutates the filesystem itself;
// it only confirms what a tool already did.
type Verifier struct {
	repoRoot string
	metrics  *metrics.Metrics
}

func NewVerifier(repoRoot string, m *metrics.Metrics) *Verifier {
	return &Verifier{repoRoot: repoRoot, metrics: m}
}

// Verify checks every side effect a tool declared. On any mismatch it
// returns a reality_mismatch error and no events, per §4.4's "the
// tool-invocation result is overwritten with failure... and no
// VerifiedFileEvent is emitted" — the check is all-or-nothing per
// invocation.
func (v *Verifier) Verify(taskID string, step int, effects []model.SideEffect) ([]model.VerifiedFileEvent, error) {
	events := make([]model.VerifiedFileEvent, 0, len(effects))
	for _, effect := range effects {
		event, err := v.verifyOne(taskID, step, effect)
		if err != nil {
			v.metrics.RecordVerify(false)
			return nil, err
		}
		events = append(events, event)
	}
	v.metrics.RecordVerify(true)
	return events, nil
}

func (v *Verifier) verifyOne(taskID string, step int, effect model.SideEffect) (model.VerifiedFileEvent, error) {
	abs, err := resolveRepoPath(v.repoRoot, effect.Path)
	if err != nil {
		return model.VerifiedFileEvent{}, err
	}

	switch effect.Action {
	case model.FileActionDelete:
		if _, err := os.Stat(abs); err == nil {
			return model.VerifiedFileEvent{}, model.NewError(model.ErrorKindRealityMismatch,
				fmt.Sprintf("file %q still exists after reported delete", effect.Path))
		}
		diff := unifiedDiff(effect.Path, effect.PriorContent, nil)
		return model.VerifiedFileEvent{
			ID:          newEventID(),
			TaskID:      taskID,
			Step:        step,
			Path:        effect.Path,
			Action:      effect.Action,
			UnifiedDiff: diff,
			Timestamp:   time.Now().UTC(),
		}, nil

	case model.FileActionCreate, model.FileActionUpdate:
		info, err := os.Stat(abs)
		if err != nil {
			return model.VerifiedFileEvent{}, model.Wrap(model.ErrorKindRealityMismatch,
				fmt.Sprintf("file %q does not exist after reported write", effect.Path), err)
		}
		if info.Size() != int64(len(effect.Bytes)) {
			return model.VerifiedFileEvent{}, model.NewError(model.ErrorKindRealityMismatch,
				fmt.Sprintf("file %q size %d does not match reported %d bytes", effect.Path, info.Size(), len(effect.Bytes)))
		}
		onDisk, err := os.ReadFile(abs)
		if err != nil {
			return model.VerifiedFileEvent{}, model.Wrap(model.ErrorKindRealityMismatch,
				fmt.Sprintf("could not read %q for verification", effect.Path), err)
		}
		if sha256.Sum256(onDisk) != sha256.Sum256(effect.Bytes) {
			return model.VerifiedFileEvent{}, model.NewError(model.ErrorKindRealityMismatch,
				fmt.Sprintf("file %q content hash does not match reported write", effect.Path))
		}

		checks, warnings := runQualityChecks(effect.Path, onDisk)
		diff := unifiedDiff(effect.Path, effect.PriorContent, onDisk)
		return model.VerifiedFileEvent{
			ID:              newEventID(),
			TaskID:          taskID,
			Step:            step,
			Path:            effect.Path,
			Action:          effect.Action,
			ByteSize:        info.Size(),
			QualityChecks:   checks,
			QualityWarnings: warnings,
			UnifiedDiff:     diff,
			Timestamp:       time.Now().UTC(),
		}, nil

	default:
		return model.VerifiedFileEvent{}, model.NewError(model.ErrorKindContractViolated,
			fmt.Sprintf("unknown file action %q", effect.Action))
	}
}

// unifiedDiff renders the change from before to after as a patch-style
// unified diff. before is nil for a fresh create; after is nil for a
// delete. Returns "" when both are empty (an empty file created and
// left empty, or an already-empty file deleted).
func unifiedDiff(path string, before, after []byte) string {
	if len(before) == 0 && len(after) == 0 {
		return ""
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}
