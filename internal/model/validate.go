package model

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var ErrCycleDetected = errors.New("cycle detected")

var (
	reMatchCode = regexp.MustCompile(`^([1-5][0-9]{2}|[2-5]xx)$`)
	validMethods = map[string]struct{}{
		"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
	}
)

// ValidMatchCode reports whether s is an exact status or a range pattern.
func ValidMatchCode(s string) bool {
	return reMatchCode.MatchString(s)
}

// ValidateEnvironment checks the environment invariants.
func ValidateEnvironment(env *Environment) error {
	keys := map[string]struct{}{}
	for _, v := range env.Variables {
		if v.Key == "" {
			return errors.New("variable key must not be empty")
		}
		if _, ok := keys[v.Key]; ok {
			return fmt.Errorf("duplicate variable key %q", v.Key)
		}
		keys[v.Key] = struct{}{}
	}
	fileKeys := map[string]struct{}{}
	for _, k := range env.FileKeys {
		if _, ok := fileKeys[k]; ok {
			return fmt.Errorf("duplicate file key %q", k)
		}
		fileKeys[k] = struct{}{}
	}
	names := map[string]struct{}{}
	for _, c := range env.Connectors {
		if _, ok := names[c.Name]; ok {
			return fmt.Errorf("duplicate connector name %q", c.Name)
		}
		names[c.Name] = struct{}{}
	}
	return nil
}

// ValidateSuite checks all save-time invariants of a suite:
// unique step names, method and match-code grammar, side-effect
// references, extraction name uniqueness, and acyclic dependencies.
func ValidateSuite(suite *Suite) error {
	names := map[string]struct{}{}
	ids := lo.SliceToMap(suite.Steps, func(s Step) (uuid.UUID, struct{}) {
		return s.ID, struct{}{}
	})

	for i := range suite.Steps {
		step := &suite.Steps[i]
		if step.Name == "" {
			return fmt.Errorf("step %s has no name", step.ID)
		}
		if _, ok := names[step.Name]; ok {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		names[step.Name] = struct{}{}

		if _, ok := validMethods[step.Method]; !ok {
			return fmt.Errorf("step %q: invalid method %q", step.Name, step.Method)
		}

		for _, dep := range step.Dependencies {
			if dep.DependsOnStepID == step.ID {
				return fmt.Errorf("step %q depends on itself", step.Name)
			}
			if _, ok := ids[dep.DependsOnStepID]; !ok {
				return fmt.Errorf("step %q depends on unknown step %s", step.Name, dep.DependsOnStepID)
			}
		}

		for _, h := range step.Handlers {
			if !ValidMatchCode(h.MatchCode) {
				return fmt.Errorf("step %q: invalid match code %q", step.Name, h.MatchCode)
			}
			if h.Action == ActionFireSideEffect {
				if h.SideEffectStepID == nil {
					return fmt.Errorf("step %q: FIRE_SIDE_EFFECT handler without side effect step", step.Name)
				}
				if _, ok := ids[*h.SideEffectStepID]; !ok {
					return fmt.Errorf("step %q: side effect references unknown step %s", step.Name, *h.SideEffectStepID)
				}
			}
		}

		varNames := map[string]struct{}{}
		for _, ex := range step.Extractions {
			if _, ok := varNames[ex.VariableName]; ok {
				return fmt.Errorf("step %q: duplicate extracted variable %q", step.Name, ex.VariableName)
			}
			varNames[ex.VariableName] = struct{}{}
		}
	}

	return checkAcyclic(suite)
}

// checkAcyclic runs Kahn's algorithm over the dependency graph.
func checkAcyclic(suite *Suite) error {
	inDegree := map[uuid.UUID]int{}
	dependents := map[uuid.UUID][]uuid.UUID{}
	for i := range suite.Steps {
		step := &suite.Steps[i]
		inDegree[step.ID] += 0
		for _, dep := range step.Dependencies {
			inDegree[step.ID]++
			dependents[dep.DependsOnStepID] = append(dependents[dep.DependsOnStepID], step.ID)
		}
	}

	var q []uuid.UUID
	for id, deg := range inDegree {
		if deg == 0 {
			q = append(q, id)
		}
	}

	visited := 0
	for len(q) > 0 {
		id := q[0]
		q = q[1:]
		visited++
		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				q = append(q, next)
			}
		}
	}

	if visited != len(suite.Steps) {
		return ErrCycleDetected
	}
	return nil
}
