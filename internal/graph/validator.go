package graph

import (
	"fmt"
	"strings"
)

// Result is the outcome of structural validation. Issues holds every
// problem found, not just the first, so activation failures can surface
// the complete list.
type Result struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// Validate checks a workflow graph for structural soundness: exactly one
// initial stage, at least one terminal stage, and no disconnected stages.
// Any stage without outgoing transitions is a terminal, so branching
// endings (accept and reject both closing the process) are legal. It is
// enforced only at activation time so partial graphs can be built
// incrementally.
func Validate(g *Graph) Result {
	var issues []string

	stages := g.Stages()
	if len(stages) == 0 {
		return Result{Valid: false, Issues: []string{"workflow has no stages"}}
	}

	var entryNames []string
	for _, s := range stages {
		if g.IsInitial(s.ID) {
			entryNames = append(entryNames, s.Name)
		}
	}
	switch len(entryNames) {
	case 1:
		// ok
	case 0:
		issues = append(issues, "no initial stage: every stage has incoming transitions")
	default:
		issues = append(issues, fmt.Sprintf("ambiguous initial stage: %s all lack incoming transitions", strings.Join(entryNames, ", ")))
	}

	if len(g.Terminals()) == 0 {
		issues = append(issues, "no terminal stage: every stage has outgoing transitions")
	}

	// A stage with neither incoming nor outgoing transitions is connected
	// to nothing and can never be reached or left. The single-stage
	// workflow is the one legitimate shape where initial and terminal
	// coincide on an unconnected stage.
	if len(stages) > 1 {
		for _, s := range stages {
			if g.IsInitial(s.ID) && g.IsFinal(s.ID) {
				issues = append(issues, fmt.Sprintf("stage %q is isolated", s.Name))
			}
		}
	}

	return Result{Valid: len(issues) == 0, Issues: issues}
}
