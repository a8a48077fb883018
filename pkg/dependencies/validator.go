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
	"fmt"

	"github.com/confsync/confsync/pkg/document"
)

// ValidationResult is the advisory outcome of validating a document.
type ValidationResult struct {
	// Valid is true when nothing is missing and there is no cycle.
	Valid bool

	// MissingDependencies maps a referencing item to the references it holds
	// that the document does not define.
	MissingDependencies map[document.ItemKey][]document.ItemKey

	HasCycle bool
	Cycle    []document.ItemKey

	// Warnings are informational and never affect Valid.
	Warnings []string

	Statistics Statistics
}

// MissingCount returns the number of unresolved references.
func (r *ValidationResult) MissingCount() int {
	n := 0
	for _, keys := range r.MissingDependencies {
		n += len(keys)
	}
	return n
}

// Referrers returns the keys of MissingDependencies in key order.
func (r *ValidationResult) Referrers() []document.ItemKey {
	keys := make([]document.ItemKey, 0, len(r.MissingDependencies))
	for k := range r.MissingDependencies {
		keys = append(keys, k)
	}
	document.SortKeys(keys)
	return keys
}

// Validator checks a document and its graph.
type Validator struct {
	// MaxDependencyDepth produces a warning for longer reference chains.
	// Zero disables the check.
	MaxDependencyDepth int
}

// NewValidator returns a validator with default settings.
func NewValidator() *Validator {
	return &Validator{
		MaxDependencyDepth: 16,
	}
}

// Validate checks g, which must have been built from doc.
func (v *Validator) Validate(doc *document.Document, g *Graph) *ValidationResult {
	result := &ValidationResult{
		MissingDependencies: map[document.ItemKey][]document.ItemKey{},
		Statistics:          g.Statistics(),
	}

	if missing := g.FindMissing(defined(doc)); len(missing) > 0 {
		for _, to := range missing {
			for _, from := range g.Dependents(to) {
				result.MissingDependencies[from] = append(result.MissingDependencies[from], to)
			}
		}
	}

	if _, err := g.TopologicalOrder(); err != nil {
		if cyc, ok := err.(*CyclicDependencyError); ok {
			result.HasCycle = true
			result.Cycle = cyc.Cycle
		}
	} else {
		v.validateDepth(g, result)
	}

	result.Valid = !result.HasCycle && len(result.MissingDependencies) == 0
	return result
}

// validateDepth warns about reference chains longer than MaxDependencyDepth.
// The graph must be acyclic.
func (v *Validator) validateDepth(g *Graph, result *ValidationResult) {
	if v.MaxDependencyDepth <= 0 {
		return
	}
	levels, err := g.Levels()
	if err != nil {
		return
	}
	if depth := len(levels) - 1; depth > v.MaxDependencyDepth {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("reference chain ending at %s has depth %d, more than %d", levels[len(levels)-1][0], depth, v.MaxDependencyDepth))
	}
}
