package engine

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/internal/model"
)

// plan is the immutable ordered step list a run driver iterates.
type plan struct {
	steps   []*model.Step
	targets map[uuid.UUID]bool
}

// buildPlan computes the execution order for a suite run (target is
// nil) or a single-step run. The plan holds the targets plus their
// transitive predecessors, topologically sorted with ties broken by
// ascending sort order.
func buildPlan(suite *model.Suite, target *uuid.UUID) (*plan, error) {
	targets := map[uuid.UUID]bool{}
	if target != nil {
		if _, ok := suite.StepByID(*target); !ok {
			return nil, fmt.Errorf("step %s not found in suite %q", target, suite.Name)
		}
		targets[*target] = true
	} else {
		for i := range suite.Steps {
			if !suite.Steps[i].DependencyOnly {
				targets[suite.Steps[i].ID] = true
			}
		}
	}

	// Transitive predecessor closure over the dependency edges.
	needed := map[uuid.UUID]bool{}
	var visit func(id uuid.UUID)
	visit = func(id uuid.UUID) {
		if needed[id] {
			return
		}
		needed[id] = true
		step, ok := suite.StepByID(id)
		if !ok {
			return
		}
		for _, dep := range step.Dependencies {
			visit(dep.DependsOnStepID)
		}
	}
	for id := range targets {
		visit(id)
	}

	// Kahn's algorithm restricted to the needed set.
	indegree := map[uuid.UUID]int{}
	dependents := map[uuid.UUID][]uuid.UUID{}
	for id := range needed {
		step, _ := suite.StepByID(id)
		for _, dep := range step.Dependencies {
			if !needed[dep.DependsOnStepID] {
				continue
			}
			indegree[id]++
			dependents[dep.DependsOnStepID] = append(dependents[dep.DependsOnStepID], id)
		}
	}

	var ready []*model.Step
	for id := range needed {
		if indegree[id] == 0 {
			step, _ := suite.StepByID(id)
			ready = append(ready, step)
		}
	}

	ordered := make([]*model.Step, 0, len(needed))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].SortOrder != ready[j].SortOrder {
				return ready[i].SortOrder < ready[j].SortOrder
			}
			return ready[i].Name < ready[j].Name
		})
		step := ready[0]
		ready = ready[1:]
		ordered = append(ordered, step)
		for _, depID := range dependents[step.ID] {
			indegree[depID]--
			if indegree[depID] == 0 {
				next, _ := suite.StepByID(depID)
				ready = append(ready, next)
			}
		}
	}

	if len(ordered) != len(needed) {
		return nil, model.ErrCycleDetected
	}
	return &plan{steps: ordered, targets: targets}, nil
}
