package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for matching the error taxonomy with errors.Is.
var (
	ErrStructural   = errors.New("structural validation failed")
	ErrConsistency  = errors.New("consistency check failed")
	ErrOrdering     = errors.New("stage ordering violated")
	ErrPersistence  = errors.New("persistence failed")
	ErrBuilderInput = errors.New("builder input missing")
)

// FieldIssue names one offending field path and why it was rejected.
type FieldIssue struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (f FieldIssue) String() string {
	return fmt.Sprintf("%s: %s", f.Path, f.Reason)
}

func joinIssues(issues []FieldIssue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, "; ")
}

// StructuralValidationError reports a schema contract violation.
type StructuralValidationError struct {
	Schema string
	Issues []FieldIssue
}

func (e *StructuralValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrStructural, e.Schema, joinIssues(e.Issues))
}

func (e *StructuralValidationError) Is(target error) bool { return target == ErrStructural }

// ConsistencyError reports blocking cross-field or dependency violations.
type ConsistencyError struct {
	Stage  Stage
	Issues []FieldIssue
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConsistency, e.Stage, joinIssues(e.Issues))
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// OrderingError reports an attempt to advance to anything but the immediate
// successor of the current stage.
type OrderingError struct {
	Current   Stage
	Attempted Stage
	Expected  Stage // empty when Current is the final stage
}

func (e *OrderingError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("%s: cannot advance from final stage %s to %s", ErrOrdering, e.Current, e.Attempted)
	}
	return fmt.Sprintf("%s: cannot advance from %s to %s (expected %s)", ErrOrdering, e.Current, e.Attempted, e.Expected)
}

func (e *OrderingError) Is(target error) bool { return target == ErrOrdering }

// PersistenceError wraps an underlying gateway failure.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrPersistence, e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// BuilderInputError reports required raw input the builder could not find.
type BuilderInputError struct {
	Stage   Stage
	Missing []FieldIssue
}

func (e *BuilderInputError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrBuilderInput, e.Stage, joinIssues(e.Missing))
}

func (e *BuilderInputError) Is(target error) bool { return target == ErrBuilderInput }
