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

package conflict

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
)

// DefaultMaxNameLength bounds the names produced by Rename.
const DefaultMaxNameLength = 63

// StrategyHandler resolves a single conflict against the shared state of a
// Resolve call.
type StrategyHandler interface {
	Resolve(ctx context.Context, state *State, c *Conflict) error
}

// State is the mutable context of one Resolve call.
type State struct {
	Document   *document.Document
	Inventory  *Inventory
	Resolution *Resolution

	deps *dependencies.Resolver
	// assigned holds names handed out earlier in the same batch.
	assigned sets.Set[document.ItemKey]
}

// Taken reports whether key is used by the target, the document or an
// earlier rename in the batch.
func (s *State) Taken(key document.ItemKey) bool {
	return s.Inventory.Has(key) || s.Document.Has(key) || s.assigned.Has(key)
}

// skipStrategy drops the incoming item.
type skipStrategy struct{}

func (skipStrategy) Resolve(_ context.Context, state *State, c *Conflict) error {
	if _, ok := state.Document.RemoveItem(c.Key); !ok {
		return fmt.Errorf("%w: %s", document.ErrItemNotFound, c.Key)
	}
	state.Resolution.Skipped = append(state.Resolution.Skipped, c.Key)
	return nil
}

// overwriteStrategy keeps the incoming payload under the existing identity.
type overwriteStrategy struct{}

func (overwriteStrategy) Resolve(_ context.Context, state *State, c *Conflict) error {
	item, ok := state.Document.Item(c.Key)
	if !ok {
		return fmt.Errorf("%w: %s", document.ErrItemNotFound, c.Key)
	}
	if c.Existing != nil {
		item.ID = c.Existing.ID
	}
	state.Resolution.Overwritten = append(state.Resolution.Overwritten, c.Key)
	return nil
}

// renameStrategy moves the incoming item to "<name>-<n>", n counting from 1,
// and points every referrer in the document at the new name.
type renameStrategy struct {
	maxNameLength int
}

func (s renameStrategy) Resolve(ctx context.Context, state *State, c *Conflict) error {
	logger := klog.FromContext(ctx)

	referrers := state.deps.Referrers(state.Document, c.Key)
	sites := s.referenceSites(state, c.Key, referrers)
	newName := s.freeName(state, c.Key, sites)
	for _, ref := range referrers {
		if _, err := state.Document.RewriteReference(ref, c.Key.Type, c.Key.Name, newName); err != nil {
			return fmt.Errorf("rewriting reference from %s: %w", ref, err)
		}
	}
	if err := state.Document.RenameItem(c.Key, newName); err != nil {
		return err
	}

	newKey := c.Key
	newKey.Name = newName
	state.assigned.Insert(newKey)
	state.Resolution.Renamed[newKey] = c.Key
	state.Resolution.Rebuild = true
	c.RenamedTo = newName

	logger.V(4).Info("Renamed conflicting item", "item", c.Key, "newName", newName, "referrers", len(referrers))
	return nil
}

// referenceSite is one reference, held by an item in container, that
// resolves to the item being renamed.
type referenceSite struct {
	container string
	targets   []document.ItemType
}

func (s renameStrategy) referenceSites(state *State, key document.ItemKey, referrers []document.ItemKey) []referenceSite {
	var sites []referenceSite
	for _, from := range referrers {
		item, ok := state.Document.Item(from)
		if !ok {
			continue
		}
		kind, _ := document.KindFor(item.Type)
		for _, ref := range item.References {
			if state.deps.ResolveReference(state.Document, item, ref) != key {
				continue
			}
			targets := []document.ItemType{ref.Type}
			if f, ok := kind.Field(ref.Field); ok {
				targets = f.Targets
			}
			sites = append(sites, referenceSite{container: item.Container, targets: targets})
		}
	}
	return sites
}

// freeName returns the first candidate name that is not taken and that every
// rewritten reference would still resolve to the renamed item.
func (s renameStrategy) freeName(state *State, key document.ItemKey, sites []referenceSite) string {
	base := []rune(key.Name)
	for n := 1; ; n++ {
		suffix := fmt.Sprintf("-%d", n)
		b := base
		if s.maxNameLength > 0 && len(b)+len(suffix) > s.maxNameLength {
			b = b[:max(0, s.maxNameLength-len(suffix))]
		}
		candidate := key
		candidate.Name = string(b) + suffix
		if !state.Taken(candidate) && !shadowed(state, candidate, sites) {
			return candidate.Name
		}
	}
}

// shadowed reports whether a reference from one of sites, following the
// lookup order of reference resolution, would reach another item named like
// candidate before candidate itself.
func shadowed(state *State, candidate document.ItemKey, sites []referenceSite) bool {
	for _, site := range sites {
	lookup:
		for _, t := range site.targets {
			for _, container := range state.Document.Lineage(site.container) {
				k := document.ItemKey{Type: t, Container: container, Name: candidate.Name}
				if k == candidate {
					break lookup
				}
				if state.Taken(k) {
					return true
				}
			}
		}
	}
	return false
}

// mergeStrategy is a placeholder that always refuses.
type mergeStrategy struct{}

func (mergeStrategy) Resolve(_ context.Context, _ *State, c *Conflict) error {
	return &UnsupportedStrategyError{Strategy: Merge, Type: c.Key.Type}
}
