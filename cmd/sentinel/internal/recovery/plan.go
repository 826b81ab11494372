// Copyright (C) 2025 Quantfleet Systems (ops@quantfleet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package recovery rebuilds the platform component by component after
// a failure, honoring dependency order and rolling back on critical
// failures.
package recovery

import (
	"fmt"
	"sort"

	"github.com/quantfleet/sentinel/cmd/sentinel/internal/config"
)

// BuildPlan orders components so every dependency precedes its
// dependents, breaking ties by ascending priority then name. Unknown
// dependencies and cycles are configuration errors.
func BuildPlan(components []config.RecoveryComponent) ([]config.RecoveryComponent, error) {
	byName := make(map[string]config.RecoveryComponent, len(components))
	for _, c := range components {
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("recovery plan: duplicate component %q", c.Name)
		}
		byName[c.Name] = c
	}

	indegree := make(map[string]int, len(components))
	dependents := make(map[string][]string)
	for _, c := range components {
		indegree[c.Name] += 0
		for _, dep := range c.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("recovery plan: component %q depends on unknown %q", c.Name, dep)
			}
			indegree[c.Name]++
			dependents[dep] = append(dependents[dep], c.Name)
		}
	}

	ready := readyQueue(components, indegree)
	var plan []config.RecoveryComponent
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		plan = append(plan, byName[name])
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = insertOrdered(ready, dep, byName)
			}
		}
	}

	if len(plan) != len(components) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("recovery plan: dependency cycle involving %v", stuck)
	}
	return plan, nil
}

func readyQueue(components []config.RecoveryComponent, indegree map[string]int) []string {
	byName := make(map[string]config.RecoveryComponent, len(components))
	var ready []string
	for _, c := range components {
		byName[c.Name] = c
		if indegree[c.Name] == 0 {
			ready = append(ready, c.Name)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return planLess(byName[ready[i]], byName[ready[j]]) })
	return ready
}

func insertOrdered(ready []string, name string, byName map[string]config.RecoveryComponent) []string {
	idx := sort.Search(len(ready), func(i int) bool {
		return planLess(byName[name], byName[ready[i]])
	})
	ready = append(ready, "")
	copy(ready[idx+1:], ready[idx:])
	ready[idx] = name
	return ready
}

func planLess(a, b config.RecoveryComponent) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Name < b.Name
}
