package swarm

import (
	"fmt"
)

// Plan groups a batch of tasks by dependency depth. Tasks in a tier depend
// only on tasks in earlier tiers or on tasks outside the batch.
type Plan struct {
	Tiers    [][]string          `json:"tiers"`
	External map[string][]string `json:"external,omitempty"` // task -> dependencies outside the batch
}

// BuildPlan validates the dependency graph of a batch. Every request must
// carry a unique id. It returns ErrDependencyCycle when the in-batch edges
// are not acyclic.
func BuildPlan(reqs []TaskRequest) (*Plan, error) {
	index := make(map[string]int, len(reqs))
	for i, r := range reqs {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: batch task %d has no id", ErrInvalidTask, i)
		}
		if _, dup := index[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate task id %q", ErrInvalidTask, r.ID)
		}
		index[r.ID] = i
	}

	edges := make(map[string][]string) // dependency -> dependents
	inDegree := make(map[string]int, len(reqs))
	external := make(map[string][]string)
	for _, r := range reqs {
		inDegree[r.ID] += 0
		for _, dep := range r.Dependencies {
			if _, ok := index[dep]; !ok {
				external[r.ID] = append(external[r.ID], dep)
				continue
			}
			edges[dep] = append(edges[dep], r.ID)
			inDegree[r.ID]++
		}
	}

	// Kahn's algorithm, tracking the longest path to each node as its tier.
	depth := make(map[string]int, len(reqs))
	queue := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if inDegree[r.ID] == 0 {
			queue = append(queue, r.ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, next := range edges[id] {
			inDegree[next]--
			if d := depth[id] + 1; d > depth[next] {
				depth[next] = d
			}
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if processed != len(reqs) {
		return nil, fmt.Errorf("%w among batch tasks", ErrDependencyCycle)
	}

	maxDepth := 0
	for _, d := range depth {
		maxDepth = max(maxDepth, d)
	}
	tiers := make([][]string, maxDepth+1)
	for _, r := range reqs {
		d := depth[r.ID]
		tiers[d] = append(tiers[d], r.ID)
	}
	if len(reqs) == 0 {
		tiers = nil
	}

	plan := &Plan{Tiers: tiers}
	if len(external) > 0 {
		plan.External = external
	}
	return plan, nil
}
