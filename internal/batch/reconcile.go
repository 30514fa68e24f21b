package batch

import (
	"os"
	"path/filepath"
)

// Reconcile recomputes statuses from on-disk evidence so state stays
// observable even if the worker died mid-batch. A package whose result file
// exists is done; the batch status derives from package aggregates. Returns
// true when anything changed, so callers persist only on change.
func Reconcile(meta *Meta, resultsDir string) bool {
	changed := false
	var pending, done, errored int

	for i := range meta.Packages {
		pkg := &meta.Packages[i]
		if pkg.ResultFile != "" && pkg.Status != PkgDone {
			if _, err := os.Stat(filepath.Join(resultsDir, pkg.ResultFile)); err == nil {
				pkg.Status = PkgDone
				changed = true
			}
		}
		switch pkg.Status {
		case PkgPending, PkgProcessing:
			pending++
		case PkgDone:
			done++
		case PkgError:
			errored++
		}
	}

	// Terminal cancellation states are never rewritten by evidence.
	if meta.Status == StatusCancelled || meta.Status == StatusCancelling || meta.Status == StatusReady {
		return changed
	}

	derived := meta.Status
	switch {
	case pending > 0:
		derived = StatusProcessing
	case errored > 0 && done > 0:
		derived = StatusPartial
	case errored > 0:
		derived = StatusError
	case done > 0:
		derived = StatusDone
	}
	if derived != meta.Status {
		meta.Status = derived
		changed = true
	}
	return changed
}
