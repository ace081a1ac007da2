// Package sequencer turns a declared list of specs into an execution order
// that honours every dependency. Independent specs keep their declaration
// order, so the same list always yields the same order.
package sequencer

import (
	"container/heap"
	"errors"
	"fmt"
	"strings"

	"github.com/atomikpanda/converge/internal/spec"
)

// Edge records that From depends on To. Both are spec keys.
type Edge struct {
	From string
	To   string
}

// Order validates specs and returns them in execution order. The result is
// complete or the error is a *spec.ValidationError; there is no partial
// order.
func Order(specs []spec.Spec) ([]spec.Spec, error) {
	g, err := build(specs)
	if err != nil {
		return nil, err
	}
	order, err := g.sort()
	if err != nil {
		return nil, err
	}
	out := make([]spec.Spec, len(order))
	for i, idx := range order {
		out[i] = specs[idx].Clone()
	}
	return out, nil
}

// Graph validates specs and returns the resolved dependency edges, listed
// in execution order of the dependent spec.
func Graph(specs []spec.Spec) ([]Edge, error) {
	g, err := build(specs)
	if err != nil {
		return nil, err
	}
	order, err := g.sort()
	if err != nil {
		return nil, err
	}
	var edges []Edge
	for _, idx := range order {
		for _, dep := range g.deps[idx] {
			edges = append(edges, Edge{From: specs[idx].Key(), To: specs[dep].Key()})
		}
	}
	return edges, nil
}

type graph struct {
	keys []string
	// deps[i] lists the indexes spec i depends on, without duplicates.
	deps [][]int
	// dependents[i] lists the indexes that depend on spec i.
	dependents [][]int
}

func build(specs []spec.Spec) (*graph, error) {
	var issues []string
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			var verr *spec.ValidationError
			if errors.As(err, &verr) {
				for _, issue := range verr.Issues {
					issues = append(issues, fmt.Sprintf("%s: %s", verr.Key, issue))
				}
				continue
			}
			issues = append(issues, err.Error())
		}
	}

	g := &graph{
		keys:       make([]string, len(specs)),
		deps:       make([][]int, len(specs)),
		dependents: make([][]int, len(specs)),
	}
	byKey := make(map[string]int, len(specs))
	byIdentity := make(map[string][]int, len(specs))
	for i, s := range specs {
		key := s.Key()
		g.keys[i] = key
		if first, dup := byKey[key]; dup {
			issues = append(issues, fmt.Sprintf("%s: declared twice (items %d and %d)", key, first+1, i+1))
			continue
		}
		byKey[key] = i
		byIdentity[s.Identity] = append(byIdentity[s.Identity], i)
	}

	for i, s := range specs {
		seen := make(map[int]bool)
		for _, ref := range s.DependsOn {
			if ref == "" {
				continue // reported by Validate
			}
			dep, err := resolve(ref, byKey, byIdentity, g.keys)
			if err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", g.keys[i], err))
				continue
			}
			if dep == i || seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[i] = append(g.deps[i], dep)
			g.dependents[dep] = append(g.dependents[dep], i)
		}
	}

	if len(issues) > 0 {
		return nil, &spec.ValidationError{Issues: issues}
	}
	return g, nil
}

// resolve maps a reference to a spec index. "kind:identity" is matched by
// key; anything else must be the identity of exactly one spec.
func resolve(ref string, byKey map[string]int, byIdentity map[string][]int, keys []string) (int, error) {
	if kind, _, ok := strings.Cut(ref, ":"); ok && spec.Kind(kind).Valid() {
		if idx, ok := byKey[ref]; ok {
			return idx, nil
		}
		return -1, fmt.Errorf("depends on unknown spec %q", ref)
	}
	matches := byIdentity[ref]
	switch len(matches) {
	case 0:
		return -1, fmt.Errorf("depends on unknown spec %q", ref)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = keys[m]
		}
		return -1, fmt.Errorf("reference %q is ambiguous (%s); use kind:identity", ref, strings.Join(names, ", "))
	}
}

// sort is Kahn's algorithm with a min-heap on declaration index.
func (g *graph) sort() ([]int, error) {
	n := len(g.keys)
	indegree := make([]int, n)
	ready := &indexHeap{}
	for i := range n {
		indegree[i] = len(g.deps[i])
		if indegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, d := range g.dependents[i] {
			indegree[d]--
			if indegree[d] == 0 {
				heap.Push(ready, d)
			}
		}
	}
	if len(order) == n {
		return order, nil
	}
	return nil, &spec.ValidationError{Issues: []string{"dependency cycle: " + g.cycle(indegree)}}
}

// cycle finds one cycle among the nodes Kahn's algorithm could not place.
// Each such node has at least one unplaced dependency, so following the
// lowest-indexed one from the lowest-indexed node must revisit a node.
func (g *graph) cycle(indegree []int) string {
	start := -1
	for i, d := range indegree {
		if d > 0 {
			start = i
			break
		}
	}
	pos := make(map[int]int)
	var path []int
	for node := start; ; {
		if at, seen := pos[node]; seen {
			path = append(path[at:], node)
			break
		}
		pos[node] = len(path)
		path = append(path, node)
		next := -1
		for _, d := range g.deps[node] {
			if indegree[d] > 0 && (next == -1 || d < next) {
				next = d
			}
		}
		node = next
	}
	names := make([]string, len(path))
	for i, idx := range path {
		names[i] = g.keys[idx]
	}
	return strings.Join(names, " -> ")
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
