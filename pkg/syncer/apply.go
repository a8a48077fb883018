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

package syncer

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/confsync/confsync/pkg/conflict"
	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote"
	"github.com/confsync/confsync/pkg/syncer/logging"
)

// Apply writes a copy of doc to the remote environment, dependencies first.
// A cycle, or a missing dependency in strict mode, fails the run before any
// write. Per-item failures are recorded and everything that depends on a
// failed item is skipped. The returned error is non-nil only when the run
// ends Failed or Cancelled.
func (s *Syncer) Apply(ctx context.Context, in *document.Document) (*Report, error) {
	ctx, r := s.newRun(ctx, ModeApply)
	doc := in.Clone()
	r.report.Document = doc
	if ctx.Err() != nil {
		return r.cancel(ctx)
	}

	r.transition(StateValidating)
	doc = r.classify(doc)
	r.report.Document = doc
	r.report.CountsByType = doc.CountByType()
	if err := r.checkApplicable(doc); err != nil {
		return r.fail(err)
	}
	if ctx.Err() != nil {
		return r.cancel(ctx)
	}

	r.transition(StateDetectingConflicts)
	inv, blocked := r.collectInventory(ctx, doc)
	if ctx.Err() != nil {
		return r.cancel(ctx)
	}
	resolver := conflict.NewResolver(s.opts.Strategy, &conflict.ResolverConfig{
		StrategyOverrides: s.opts.StrategyOverrides,
	})
	for key, strategy := range s.keyStrategies {
		resolver.SetStrategy(key, strategy)
	}
	conflicts := resolver.DetectConflicts(ctx, inv, doc)

	r.transition(StateResolving)
	resolution, err := resolver.Resolve(ctx, inv, doc, conflicts)
	report := resolver.Report()
	r.report.Conflicts = &report
	r.report.ConflictDetails = conflicts
	if err != nil {
		return r.cancel(ctx)
	}
	r.recordResolution(resolution, blocked)

	// Names may have changed, so the order is always computed on the
	// resolved document.
	if resolution.Rebuild {
		r.logger.V(2).Info("Rebuilding dependency graph after renames", "renamed", len(resolution.Renamed))
	}
	graph := s.deps.BuildGraph(doc)
	order, err := graph.TopologicalOrder()
	if err != nil {
		return r.fail(&SyncError{Kind: KindCyclicDependency, Err: err})
	}

	if s.opts.DryRun {
		r.transition(StateDryRun)
	} else {
		r.transition(StateApplying)
	}
	return r.applyInOrder(ctx, doc, graph, order, resolution, blocked)
}

// checkApplicable validates doc and returns the cause when it cannot be
// applied.
func (r *run) checkApplicable(doc *document.Document) error {
	r.validate(doc)
	result := r.report.Validation

	if result.HasCycle {
		return &SyncError{Kind: KindCyclicDependency, Err: &dependencies.CyclicDependencyError{Cycle: result.Cycle}}
	}
	if r.s.opts.Strict && len(result.MissingDependencies) > 0 {
		for _, from := range result.Referrers() {
			r.addError(&SyncError{
				Kind: KindMissingDependency,
				Key:  from,
				Err:  fmt.Errorf("undefined references %v", result.MissingDependencies[from]),
			})
		}
		return &SyncError{
			Kind: KindMissingDependency,
			Err:  fmt.Errorf("%d unresolved references in strict mode", result.MissingCount()),
		}
	}
	return nil
}

// collectInventory lists the target items for every container and type the
// document uses. A slice that cannot be listed marks its incoming items as
// failed; they are returned as blocked.
func (r *run) collectInventory(ctx context.Context, doc *document.Document) (*conflict.Inventory, sets.Set[document.ItemKey]) {
	seen := map[slice]bool{}
	var slices []slice
	for _, key := range doc.Keys() {
		sl := slice{container: key.Container, itemType: key.Type}
		if !seen[sl] {
			seen[sl] = true
			slices = append(slices, sl)
		}
	}

	inv := conflict.NewInventory()
	blocked := sets.New[document.ItemKey]()
	for i, res := range r.s.fetchAll(ctx, slices) {
		sl := slices[i]
		switch {
		case res.err == nil:
			inv.Add(res.items...)
		case remote.IsNotFound(res.err):
			r.logger.V(4).Info("Target slice not found, treating as empty", logging.ItemContainer, sl.container, logging.ItemType, sl.itemType)
		case errors.Is(res.err, context.Canceled), errors.Is(res.err, context.DeadlineExceeded):
			// The caller checks ctx next.
		default:
			r.addError(&SyncError{Kind: KindRemoteOperationFailure, Container: sl.container, Type: sl.itemType,
				Err: fmt.Errorf("listing target inventory: %w", res.err)})
			for _, item := range doc.ItemsIn(sl.container) {
				if item.Type != sl.itemType {
					continue
				}
				r.addOutcome(ItemOutcome{Key: item.Key(), Outcome: OutcomeFailed, Err: res.err})
				blocked.Insert(item.Key())
			}
		}
	}
	return inv, blocked
}

// recordResolution turns skipped and unresolved conflicts into outcomes.
func (r *run) recordResolution(res *conflict.Resolution, blocked sets.Set[document.ItemKey]) {
	for _, key := range res.Skipped {
		r.addOutcome(ItemOutcome{Key: key, Outcome: OutcomeSkipped})
	}
	for _, c := range r.report.ConflictDetails {
		if c.Err == nil {
			continue
		}
		r.addError(&SyncError{Kind: kindForError(c.Err), Key: c.Key, Err: c.Err})
		r.addOutcome(ItemOutcome{Key: c.Key, Outcome: OutcomeFailed, Err: c.Err})
		blocked.Insert(c.Key)
	}
}

func (r *run) addOutcome(o ItemOutcome) {
	r.report.Outcomes = append(r.report.Outcomes, o)
	r.s.metrics.recordItem(string(o.Key.Type), string(o.Outcome))
}

// applyInOrder walks order, writing or simulating every item that is not
// blocked. Writes are strictly sequential.
func (r *run) applyInOrder(ctx context.Context, doc *document.Document, graph *dependencies.Graph, order []document.ItemKey,
	res *conflict.Resolution, blocked sets.Set[document.ItemKey]) (*Report, error) {
	overwritten := sets.New(res.Overwritten...)

	// Dependents of items that will never be written are skipped up front.
	dependencyFailed := map[document.ItemKey]document.ItemKey{}
	markDependents := func(failed document.ItemKey) {
		for _, dep := range graph.TransitiveDependents(failed) {
			if _, ok := dependencyFailed[dep]; !ok && !blocked.Has(dep) {
				dependencyFailed[dep] = failed
			}
		}
	}
	blockedKeys := blocked.UnsortedList()
	document.SortKeys(blockedKeys)
	for _, key := range blockedKeys {
		markDependents(key)
	}

	var pending []document.ItemKey
	for _, key := range order {
		if doc.Has(key) && !blocked.Has(key) {
			pending = append(pending, key)
		}
	}

	for i, key := range pending {
		if ctx.Err() != nil {
			return r.cancel(ctx)
		}
		item, _ := doc.Item(key)
		outcome := ItemOutcome{Key: key, Operation: remote.OperationCreate, ID: item.ID}
		if overwritten.Has(key) {
			outcome.Operation = remote.OperationUpdate
		}
		if orig, ok := res.Renamed[key]; ok {
			outcome.RenamedFrom = orig.Name
		}

		switch cause, skip := dependencyFailed[key]; {
		case skip:
			outcome.Outcome = OutcomeDependencyFailed
			outcome.Err = fmt.Errorf("dependency %s was not applied", cause)
		case r.s.opts.DryRun:
			outcome.Outcome = OutcomeDryRun
		default:
			result, err := r.write(ctx, outcome.Operation, item)
			if err != nil {
				if ctx.Err() != nil {
					return r.cancel(ctx)
				}
				outcome.Outcome = OutcomeFailed
				outcome.Err = err
				r.addError(&SyncError{Kind: KindRemoteOperationFailure, Key: key, Err: err})
				markDependents(key)
				break
			}
			outcome.Outcome = OutcomeApplied
			outcome.ID = result.ID
			item.ID = result.ID
		}

		r.addOutcome(outcome)
		r.logger.V(4).Info("Processed item", logging.ItemKey, key, logging.ItemOperation, outcome.Operation, "outcome", outcome.Outcome)
		r.progress(fmt.Sprintf("%s %s", outcome.Outcome, key), i+1, len(pending))
	}
	return r.finish(StateDone, nil)
}

func (r *run) write(ctx context.Context, op remote.Operation, item *document.Item) (*remote.Result, error) {
	if op == remote.OperationUpdate {
		return r.s.client.UpdateItem(ctx, item)
	}
	return r.s.client.CreateItem(ctx, item)
}
