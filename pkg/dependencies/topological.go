/*
Copyright 2025 The Confsync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dependencies

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/confsync/confsync/pkg/document"
)

// CyclicDependencyError is returned when the graph contains a cycle. Cycle
// lists the participating keys in edge order; the first key is repeated
// implicitly at the end.
type CyclicDependencyError struct {
	Cycle []document.ItemKey
}

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, 0, len(e.Cycle)+1)
	for _, k := range e.Cycle {
		parts = append(parts, k.String())
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, e.Cycle[0].String())
	}
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(parts, " -> "))
}

const (
	white = iota
	grey
	black
)

// TopologicalOrder returns every node with dependencies before dependents.
// Among the nodes whose dependencies have all been emitted, the smallest key
// comes first, so the result is deterministic. If the graph has a cycle a
// *CyclicDependencyError is returned and no order.
func (g *Graph) TopologicalOrder() ([]document.ItemKey, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cycle := g.findCycleUnsafe(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	remaining := make(map[document.ItemKey]int, g.nodes.Len())
	ready := &keyHeap{}
	for key := range g.nodes {
		remaining[key] = g.dependencies[key].Len()
		if remaining[key] == 0 {
			heap.Push(ready, key)
		}
	}

	order := make([]document.ItemKey, 0, g.nodes.Len())
	for ready.Len() > 0 {
		cur := heap.Pop(ready).(document.ItemKey)
		order = append(order, cur)
		for dep := range g.dependents[cur] {
			remaining[dep]--
			if remaining[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}
	return order, nil
}

// findCycleUnsafe runs a three-color depth-first search and returns the first
// cycle found, or nil. Callers must hold the read lock.
func (g *Graph) findCycleUnsafe() []document.ItemKey {
	color := make(map[document.ItemKey]int, g.nodes.Len())
	var path []document.ItemKey

	var visit func(key document.ItemKey) []document.ItemKey
	visit = func(key document.ItemKey) []document.ItemKey {
		color[key] = grey
		path = append(path, key)
		for _, dep := range sortedKeys(g.dependencies[key]) {
			switch color[dep] {
			case grey:
				for i := range path {
					if path[i] == dep {
						return append([]document.ItemKey(nil), path[i:]...)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		color[key] = black
		return nil
	}

	for _, key := range sortedKeys(g.nodes) {
		if color[key] == white {
			if cycle := visit(key); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Levels groups nodes so that every node's dependencies sit in an earlier
// level. Keys within a level are sorted.
func (g *Graph) Levels() ([][]document.ItemKey, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	level := make(map[document.ItemKey]int, len(order))
	var levels [][]document.ItemKey
	for _, key := range order {
		l := 0
		for dep := range g.dependencies[key] {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[key] = l
		if l == len(levels) {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], key)
	}
	for _, keys := range levels {
		document.SortKeys(keys)
	}
	return levels, nil
}

// IsValidOrder reports whether order contains every node exactly once with
// each dependency placed before its dependents.
func (g *Graph) IsValidOrder(order []document.ItemKey) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	position := make(map[document.ItemKey]int, len(order))
	for i, key := range order {
		if _, dup := position[key]; dup {
			return false
		}
		position[key] = i
	}
	if len(position) != g.nodes.Len() {
		return false
	}
	for key := range g.nodes {
		pos, ok := position[key]
		if !ok {
			return false
		}
		for dep := range g.dependencies[key] {
			if position[dep] >= pos {
				return false
			}
		}
	}
	return true
}

// keyHeap is a min-heap of keys in ItemKey order.
type keyHeap []document.ItemKey

func (h keyHeap) Len() int           { return len(h) }
func (h keyHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h keyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *keyHeap) Push(x any) { *h = append(*h, x.(document.ItemKey)) }

func (h *keyHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
