// Package graph holds the in-memory representation of a workflow graph:
// stages ordered by sequence and directed transitions indexed by source
// and target stage. The whole graph for a workflow is loaded once and
// queried with plain map lookups; nothing here touches storage.
package graph

import (
	"fmt"
	"sort"

	"github.com/enrollflow/enrollflow/model"
)

// Graph is the loaded, indexed form of one workflow.
type Graph struct {
	workflow    model.Workflow
	stages      []model.Stage
	stagesByID  map[string]model.Stage
	outgoing    map[string][]model.Transition
	incoming    map[string][]model.Transition
	transitions map[string]model.Transition
}

// Build assembles a Graph from a workflow and its batch-loaded stages and
// transitions. Stages are ordered by sequence; outgoing transitions are
// ordered by priority (creation order) so the engine's automatic scan is
// deterministic.
func Build(wf model.Workflow, stages []model.Stage, transitions []model.Transition) (*Graph, error) {
	g := &Graph{
		workflow:    wf,
		stages:      make([]model.Stage, len(stages)),
		stagesByID:  make(map[string]model.Stage, len(stages)),
		outgoing:    make(map[string][]model.Transition),
		incoming:    make(map[string][]model.Transition),
		transitions: make(map[string]model.Transition, len(transitions)),
	}

	copy(g.stages, stages)
	sort.SliceStable(g.stages, func(i, j int) bool {
		return g.stages[i].Sequence < g.stages[j].Sequence
	})

	for _, s := range g.stages {
		if s.WorkflowID != wf.ID {
			return nil, fmt.Errorf("graph: stage %q belongs to workflow %q, not %q", s.Name, s.WorkflowID, wf.ID)
		}
		if _, dup := g.stagesByID[s.ID]; dup {
			return nil, fmt.Errorf("graph: duplicate stage id %q", s.ID)
		}
		g.stagesByID[s.ID] = s
	}

	for _, t := range transitions {
		if t.WorkflowID != wf.ID {
			return nil, fmt.Errorf("graph: transition %q belongs to workflow %q, not %q", t.Name, t.WorkflowID, wf.ID)
		}
		if _, ok := g.stagesByID[t.SourceStageID]; !ok {
			return nil, fmt.Errorf("graph: transition %q references unknown source stage %q", t.Name, t.SourceStageID)
		}
		if _, ok := g.stagesByID[t.TargetStageID]; !ok {
			return nil, fmt.Errorf("graph: transition %q references unknown target stage %q", t.Name, t.TargetStageID)
		}
		g.transitions[t.ID] = t
		g.outgoing[t.SourceStageID] = append(g.outgoing[t.SourceStageID], t)
		g.incoming[t.TargetStageID] = append(g.incoming[t.TargetStageID], t)
	}

	for id := range g.outgoing {
		ts := g.outgoing[id]
		sort.SliceStable(ts, func(i, j int) bool { return ts[i].Priority < ts[j].Priority })
	}

	return g, nil
}

// Workflow returns the workflow this graph was built from.
func (g *Graph) Workflow() model.Workflow { return g.workflow }

// Stages returns all stages ordered by sequence. The slice is a copy;
// callers may reorder or truncate it without corrupting the graph.
func (g *Graph) Stages() []model.Stage {
	return append([]model.Stage(nil), g.stages...)
}

// StageCount returns the number of stages. The engine uses this as the
// automatic-propagation iteration cap.
func (g *Graph) StageCount() int { return len(g.stages) }

// Stage returns the stage with the given id.
func (g *Graph) Stage(id string) (model.Stage, bool) {
	s, ok := g.stagesByID[id]
	return s, ok
}

// Transition returns the transition with the given id.
func (g *Graph) Transition(id string) (model.Transition, bool) {
	t, ok := g.transitions[id]
	return t, ok
}

// Outgoing returns a copy of the transitions leaving the given stage,
// ordered by priority.
func (g *Graph) Outgoing(stageID string) []model.Transition {
	return append([]model.Transition(nil), g.outgoing[stageID]...)
}

// Incoming returns a copy of the transitions entering the given stage.
func (g *Graph) Incoming(stageID string) []model.Transition {
	return append([]model.Transition(nil), g.incoming[stageID]...)
}

// IsInitial reports whether the stage has no incoming transitions.
func (g *Graph) IsInitial(stageID string) bool {
	return len(g.incoming[stageID]) == 0
}

// IsFinal reports whether the stage has no outgoing transitions.
func (g *Graph) IsFinal(stageID string) bool {
	return len(g.outgoing[stageID]) == 0
}

// Initial returns the unique stage with no incoming transitions. It fails
// if none or more than one qualifies; an ambiguous initial stage is never
// silently resolved.
func (g *Graph) Initial() (model.Stage, error) {
	var found []model.Stage
	for _, s := range g.stages {
		if g.IsInitial(s.ID) {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return model.Stage{}, fmt.Errorf("graph: workflow %q has no initial stage", g.workflow.Name)
	default:
		return model.Stage{}, fmt.Errorf("graph: workflow %q has %d candidate initial stages", g.workflow.Name, len(found))
	}
}

// Terminals returns all stages with no outgoing transitions, in sequence
// order.
func (g *Graph) Terminals() []model.Stage {
	var out []model.Stage
	for _, s := range g.stages {
		if g.IsFinal(s.ID) {
			out = append(out, s)
		}
	}
	return out
}
