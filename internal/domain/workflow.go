package domain

import (
	"fmt"
	"strings"
)

// Workflow is a tenant's ordered list of kitchen status names. It is
// validated once at construction; unknown statuses are rejected where they
// are assigned, so aggregation can assume membership.
type Workflow struct {
	steps []string
	index map[string]int
}

// NewWorkflow validates the tenant-configured step list: non-empty, no
// blank entries, no duplicates.
func NewWorkflow(steps []string) (Workflow, error) {
	if len(steps) == 0 {
		return Workflow{}, fmt.Errorf("workflow must have at least one step")
	}
	idx := make(map[string]int, len(steps))
	out := make([]string, 0, len(steps))
	for i, s := range steps {
		s = strings.TrimSpace(s)
		if s == "" {
			return Workflow{}, fmt.Errorf("workflow step %d is blank", i)
		}
		if _, dup := idx[s]; dup {
			return Workflow{}, fmt.Errorf("workflow step %q duplicated", s)
		}
		idx[s] = i
		out = append(out, s)
	}
	return Workflow{steps: out, index: idx}, nil
}

// Initial returns the first step, the default for unset item statuses.
func (w Workflow) Initial() string { return w.steps[0] }

// Index resolves a status name to its position in the workflow.
func (w Workflow) Index(status string) (int, bool) {
	i, ok := w.index[status]
	return i, ok
}

func (w Workflow) Len() int      { return len(w.steps) }
func (w Workflow) At(i int) string { return w.steps[i] }

// Steps returns a copy of the ordered step names.
func (w Workflow) Steps() []string {
	out := make([]string, len(w.steps))
	copy(out, w.steps)
	return out
}
