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
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// StrategyOverrides selects a strategy per item type.
	StrategyOverrides map[document.ItemType]Strategy
	// MaxNameLength bounds renamed items. Zero means DefaultMaxNameLength.
	MaxNameLength int
}

// Resolution records what Resolve did to the document.
type Resolution struct {
	Skipped     []document.ItemKey
	Overwritten []document.ItemKey
	// Renamed maps the new key of a renamed item to its original key.
	Renamed map[document.ItemKey]document.ItemKey
	// Unresolved maps the key of every conflict that could not be resolved
	// to the reason. Those items stay in the document and must not be
	// written.
	Unresolved map[document.ItemKey]error
	// Rebuild is set when item names changed and any dependency graph built
	// earlier is stale.
	Rebuild bool
}

// Err aggregates the reasons of unresolved conflicts.
func (r *Resolution) Err() error {
	keys := make([]document.ItemKey, 0, len(r.Unresolved))
	for k := range r.Unresolved {
		keys = append(keys, k)
	}
	document.SortKeys(keys)

	var errs []error
	for _, k := range keys {
		errs = append(errs, r.Unresolved[k])
	}
	return utilerrors.NewAggregate(errs)
}

// Resolver detects and resolves conflicts. Strategy selection goes from a
// per-item choice to a per-type override to the default strategy.
type Resolver struct {
	defaultStrategy Strategy
	strategies      map[Strategy]StrategyHandler
	typeOverrides   map[document.ItemType]Strategy
	keyOverrides    map[document.ItemKey]Strategy
	deps            *dependencies.Resolver

	// last holds the conflicts of the most recent Detect or Resolve call.
	last []*Conflict
}

// NewResolver returns a resolver with the built-in strategies registered.
func NewResolver(defaultStrategy Strategy, config *ResolverConfig) *Resolver {
	if config == nil {
		config = &ResolverConfig{}
	}
	maxLen := config.MaxNameLength
	if maxLen == 0 {
		maxLen = DefaultMaxNameLength
	}

	r := &Resolver{
		defaultStrategy: defaultStrategy,
		strategies:      make(map[Strategy]StrategyHandler),
		typeOverrides:   make(map[document.ItemType]Strategy),
		keyOverrides:    make(map[document.ItemKey]Strategy),
		deps:            dependencies.NewResolver(),
	}
	for t, s := range config.StrategyOverrides {
		r.typeOverrides[t] = s
	}

	r.RegisterStrategy(Skip, skipStrategy{})
	r.RegisterStrategy(Overwrite, overwriteStrategy{})
	r.RegisterStrategy(Rename, renameStrategy{maxNameLength: maxLen})
	r.RegisterStrategy(Merge, mergeStrategy{})
	return r
}

// RegisterStrategy installs or replaces the handler for a strategy.
func (r *Resolver) RegisterStrategy(s Strategy, h StrategyHandler) {
	r.strategies[s] = h
}

// SetStrategyOverride selects s for every conflict of type t.
func (r *Resolver) SetStrategyOverride(t document.ItemType, s Strategy) {
	r.typeOverrides[t] = s
}

// SetStrategy selects s for the conflict on key, taking precedence over any
// other setting.
func (r *Resolver) SetStrategy(key document.ItemKey, s Strategy) {
	r.keyOverrides[key] = s
}

func (r *Resolver) selectStrategy(key document.ItemKey) Strategy {
	if s, ok := r.keyOverrides[key]; ok {
		return s
	}
	if s, ok := r.typeOverrides[key.Type]; ok {
		return s
	}
	return r.defaultStrategy
}

// DetectConflicts returns a conflict, in key order, for every item of doc
// whose key is present in inv. It never calls the remote service.
func (r *Resolver) DetectConflicts(ctx context.Context, inv *Inventory, doc *document.Document) []*Conflict {
	logger := klog.FromContext(ctx)

	var conflicts []*Conflict
	for _, incoming := range doc.Items() {
		existing, ok := inv.Get(incoming.Key())
		if !ok {
			continue
		}
		c := &Conflict{
			Key:        incoming.Key(),
			Incoming:   incoming,
			Existing:   existing,
			Resolution: r.selectStrategy(incoming.Key()),
		}
		diff, err := payloadDiff(existing.Payload, incoming.Payload)
		if err != nil {
			logger.V(4).Info("Unable to compute payload diff", "item", c.Key, "err", err)
		}
		c.Diff = diff
		conflicts = append(conflicts, c)
	}

	logger.V(2).Info("Detected conflicts", "count", len(conflicts), "inventory", inv.Len())
	r.last = conflicts
	return conflicts
}

// Resolve applies the selected strategy to every conflict, mutating doc.
// Conflicts that cannot be resolved are recorded in the Resolution and on the
// Conflict itself; only cancellation of ctx makes Resolve return an error.
func (r *Resolver) Resolve(ctx context.Context, inv *Inventory, doc *document.Document, conflicts []*Conflict) (*Resolution, error) {
	logger := klog.FromContext(ctx)

	state := &State{
		Document:  doc,
		Inventory: inv,
		Resolution: &Resolution{
			Renamed:    make(map[document.ItemKey]document.ItemKey),
			Unresolved: make(map[document.ItemKey]error),
		},
		deps:     r.deps,
		assigned: sets.New[document.ItemKey](),
	}

	for _, c := range conflicts {
		if err := ctx.Err(); err != nil {
			return state.Resolution, err
		}

		c.Resolution = r.selectStrategy(c.Key)
		handler, ok := r.strategies[c.Resolution]
		if !ok {
			c.Err = &UnsupportedStrategyError{Strategy: c.Resolution, Type: c.Key.Type}
		} else {
			c.Err = handler.Resolve(ctx, state, c)
		}

		if c.Err != nil {
			logger.Info("Conflict left unresolved", "item", c.Key, "strategy", c.Resolution, "err", c.Err)
			state.Resolution.Unresolved[c.Key] = fmt.Errorf("%s: %w", c.Key, c.Err)
			continue
		}
		logger.V(4).Info("Resolved conflict", "item", c.Key, "strategy", c.Resolution)
	}

	r.last = conflicts
	return state.Resolution, nil
}

// Report summarises the most recent DetectConflicts or Resolve call.
func (r *Resolver) Report() Report {
	return NewReport(r.last)
}

// SupportedStrategies returns the strategies with a registered handler.
func (r *Resolver) SupportedStrategies() []Strategy {
	var out []Strategy
	for _, s := range Strategies {
		if _, ok := r.strategies[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

func payloadDiff(existing, incoming map[string]interface{}) ([]byte, error) {
	if existing == nil {
		existing = map[string]interface{}{}
	}
	if incoming == nil {
		incoming = map[string]interface{}{}
	}
	oldData, err := json.Marshal(existing)
	if err != nil {
		return nil, err
	}
	newData, err := json.Marshal(incoming)
	if err != nil {
		return nil, err
	}
	return jsonpatch.CreateMergePatch(oldData, newData)
}
