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
	"errors"
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/confsync/confsync/pkg/document"
)

// Resolver turns the references held by a document's items into a Graph and
// answers ordering questions about the document. It keeps no state between
// calls.
type Resolver struct{}

// NewResolver returns a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveReference maps ref, held by item, to the key it points at. Each
// target type of the reference field is tried in order against the item's
// container and then its ancestors; the first defined item wins. When nothing
// matches, the key in the item's own container with the primary target type
// is returned so the reference is reported as missing.
func (r *Resolver) ResolveReference(doc *document.Document, item *document.Item, ref document.Reference) document.ItemKey {
	targets := []document.ItemType{ref.Type}
	if kind, ok := document.KindFor(item.Type); ok {
		if f, ok := kind.Field(ref.Field); ok {
			targets = f.Targets
		}
	}

	lineage := doc.Lineage(item.Container)
	for _, t := range targets {
		for _, container := range lineage {
			key := document.ItemKey{Type: t, Container: container, Name: ref.Name}
			if doc.Has(key) {
				return key
			}
		}
	}
	return document.ItemKey{Type: ref.Type, Container: item.Container, Name: ref.Name}
}

// BuildGraph returns a graph with a node per item and an edge per reference.
func (r *Resolver) BuildGraph(doc *document.Document) *Graph {
	g := NewGraph()
	for _, item := range doc.Items() {
		key := item.Key()
		g.AddNode(key)
		for _, ref := range item.References {
			g.AddEdge(key, r.ResolveReference(doc, item, ref))
		}
	}
	return g
}

// Referrers returns the items of doc that directly reference key.
func (r *Resolver) Referrers(doc *document.Document, key document.ItemKey) []document.ItemKey {
	return r.BuildGraph(doc).Dependents(key)
}

// ResolutionOrder returns every graph node, including referenced keys that
// doc does not define, with dependencies first.
func (r *Resolver) ResolutionOrder(doc *document.Document) ([]document.ItemKey, error) {
	return r.BuildGraph(doc).TopologicalOrder()
}

// ApplyOrder returns the keys defined by doc in the order remote writes must
// happen.
func (r *Resolver) ApplyOrder(doc *document.Document) ([]document.ItemKey, error) {
	order, err := r.ResolutionOrder(doc)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(order, func(k document.ItemKey) bool {
		return !doc.Has(k)
	}), nil
}

// DeletionOrder is the reverse of ApplyOrder: dependents go first.
func (r *Resolver) DeletionOrder(doc *document.Document) ([]document.ItemKey, error) {
	order, err := r.ApplyOrder(doc)
	if err != nil {
		return nil, err
	}
	slices.Reverse(order)
	return order, nil
}

// Validate checks doc for missing references and cycles without changing it.
func (r *Resolver) Validate(doc *document.Document) *ValidationResult {
	return NewValidator().Validate(doc, r.BuildGraph(doc))
}

// defined returns the set of keys doc holds.
func defined(doc *document.Document) sets.Set[document.ItemKey] {
	return sets.New(doc.Keys()...)
}

// IsCyclicDependency reports whether err is or wraps a *CyclicDependencyError.
func IsCyclicDependency(err error) bool {
	var cyc *CyclicDependencyError
	return errors.As(err, &cyc)
}
