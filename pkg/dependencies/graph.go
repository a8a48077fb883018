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
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/confsync/confsync/pkg/document"
)

// Graph is a directed graph of item keys. An edge from A to B records that A
// references B, so B must exist before A. Graph is safe for concurrent use.
type Graph struct {
	// mu protects the maps below
	mu sync.RWMutex

	nodes sets.Set[document.ItemKey]

	// dependencies[from] holds every key that from depends on
	dependencies map[document.ItemKey]sets.Set[document.ItemKey]

	// dependents[to] holds every key that depends on to
	dependents map[document.ItemKey]sets.Set[document.ItemKey]
}

// Statistics summarises a graph.
type Statistics struct {
	Nodes  int
	Edges  int
	ByType map[document.ItemType]int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:        sets.New[document.ItemKey](),
		dependencies: make(map[document.ItemKey]sets.Set[document.ItemKey]),
		dependents:   make(map[document.ItemKey]sets.Set[document.ItemKey]),
	}
}

// AddNode inserts key if it is not present yet.
func (g *Graph) AddNode(key document.ItemKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes.Insert(key)
}

// AddEdge records that from depends on to. Missing endpoints are inserted as
// nodes so that references to undefined items stay visible to FindMissing.
func (g *Graph) AddEdge(from, to document.ItemKey) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes.Insert(from, to)
	if g.dependencies[from] == nil {
		g.dependencies[from] = sets.New[document.ItemKey]()
	}
	g.dependencies[from].Insert(to)
	if g.dependents[to] == nil {
		g.dependents[to] = sets.New[document.ItemKey]()
	}
	g.dependents[to].Insert(from)
}

// HasNode reports whether key is a node of the graph.
func (g *Graph) HasNode(key document.ItemKey) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes.Has(key)
}

// Keys returns all nodes in key order.
func (g *Graph) Keys() []document.ItemKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.nodes)
}

// Dependencies returns the direct dependencies of key in key order.
func (g *Graph) Dependencies(key document.ItemKey) []document.ItemKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependencies[key])
}

// Dependents returns the items that directly depend on key, in key order.
func (g *Graph) Dependents(key document.ItemKey) []document.ItemKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependents[key])
}

// TransitiveDependents returns every item that depends on key directly or
// indirectly, in key order. key itself is never included.
func (g *Graph) TransitiveDependents(key document.ItemKey) []document.ItemKey {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := sets.New[document.ItemKey]()
	queue := []document.ItemKey{key}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dep := range g.dependents[cur] {
			if dep == key || seen.Has(dep) {
				continue
			}
			seen.Insert(dep)
			queue = append(queue, dep)
		}
	}
	return sortedKeys(seen)
}

// FindMissing returns every edge target that is not in defined, in key order.
func (g *Graph) FindMissing(defined sets.Set[document.ItemKey]) []document.ItemKey {
	g.mu.RLock()
	defer g.mu.RUnlock()

	missing := sets.New[document.ItemKey]()
	for to := range g.dependents {
		if !defined.Has(to) {
			missing.Insert(to)
		}
	}
	return sortedKeys(missing)
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes.Len()
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgeCountUnsafe()
}

func (g *Graph) edgeCountUnsafe() int {
	count := 0
	for _, deps := range g.dependencies {
		count += deps.Len()
	}
	return count
}

// Statistics returns node and edge counts plus nodes per type.
func (g *Graph) Statistics() Statistics {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Statistics{
		Nodes:  g.nodes.Len(),
		Edges:  g.edgeCountUnsafe(),
		ByType: make(map[document.ItemType]int),
	}
	for key := range g.nodes {
		stats.ByType[key.Type]++
	}
	return stats
}

func sortedKeys(s sets.Set[document.ItemKey]) []document.ItemKey {
	out := make([]document.ItemKey, 0, s.Len())
	for k := range s {
		out = append(out, k)
	}
	document.SortKeys(out)
	return out
}
