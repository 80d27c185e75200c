package merge

import (
	"saga/internal/commit"
)

// Conflict is a path touched divergently on both sides of a merge. Transient:
// reported to the caller, never persisted.
type Conflict struct {
	Path        string `json:"path"`
	BaseValue   any    `json:"base_value"`
	SourceValue any    `json:"source_value"`
	TargetValue any    `json:"target_value"`
}

// ConflictReport is a normal merge outcome, not an error: the caller must
// re-invoke the merge with a resolution for every listed conflict.
type ConflictReport struct {
	Conflicts []Conflict `json:"conflicts"`
}

// Result is the outcome of a merge. Exactly one of the following holds:
// Report is set and no commit was created; FastForward or NoOp is set and
// Commit is the pre-existing head; or Commit is a freshly created two-parent
// merge commit.
type Result struct {
	Commit      *commit.Commit
	Report      *ConflictReport
	FastForward bool
	NoOp        bool
}
