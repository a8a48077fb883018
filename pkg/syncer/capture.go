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

	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/syncer/logging"
)

// Capture reads the containers and item types in scope into a new document.
// Only a discovery failure fails the run; a failed fetch or a rejected item
// is recorded in the report and capture carries on. The returned error is
// non-nil only when the run ends Failed or Cancelled.
func (s *Syncer) Capture(ctx context.Context) (*Report, error) {
	ctx, r := s.newRun(ctx, ModeCapture)
	if ctx.Err() != nil {
		return r.cancel(ctx)
	}

	r.transition(StateDiscovering)
	containers, err := s.client.ListContainers(ctx, s.opts.Scope)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancel(ctx)
		}
		return r.fail(&SyncError{Kind: KindRemoteOperationFailure, Err: fmt.Errorf("discovering containers: %w", err)})
	}

	doc := document.New(document.Metadata{Source: s.opts.Source, CapturedAt: s.clock.Now()})
	r.report.Document = doc
	r.addContainers(doc, containers)
	if ctx.Err() != nil {
		return r.cancel(ctx)
	}

	r.transition(StateCapturingItems)
	var slices []slice
	for _, c := range doc.Containers() {
		for _, t := range s.opts.itemTypes() {
			slices = append(slices, slice{container: c.Name, itemType: t})
		}
	}
	results := s.fetchAll(ctx, slices)

	total := 0
	for _, res := range results {
		total += len(res.items)
	}
	current := 0
	for i, sl := range slices {
		if ctx.Err() != nil {
			return r.cancel(ctx)
		}
		res := results[i]
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				return r.cancel(ctx)
			}
			r.addError(&SyncError{Kind: KindRemoteOperationFailure, Container: sl.container, Type: sl.itemType, Err: res.err})
			s.metrics.recordItem(string(sl.itemType), string(OutcomeFailed))
			continue
		}
		for _, item := range res.items {
			if ctx.Err() != nil {
				return r.cancel(ctx)
			}
			item.Type, item.Container = sl.itemType, sl.container
			current++
			if err := doc.AddItem(item); err != nil {
				r.addError(&SyncError{Kind: kindForError(err), Key: item.Key(), Err: err})
				r.progress(fmt.Sprintf("Rejected %s", item.Key()), current, total)
				continue
			}
			s.metrics.recordItem(string(item.Type), outcomeCaptured)
			r.logger.V(4).Info("Captured item", logging.ItemKey, item.Key())
			r.progress(fmt.Sprintf("Captured %s", item.Key()), current, total)
		}
	}

	r.transition(StateClassifying)
	doc = r.classify(doc)
	r.report.Document = doc

	r.transition(StateValidating)
	r.validate(doc)

	r.report.CountsByType = doc.CountByType()
	return r.finish(StateDone, nil)
}

// addContainers inserts containers parents first. A container whose parent
// was not returned is kept as a root with a warning.
func (r *run) addContainers(doc *document.Document, containers []*document.Container) {
	pending := containers
	for len(pending) > 0 {
		var next []*document.Container
		for _, c := range pending {
			if c.Parent != "" {
				if _, ok := doc.Container(c.Parent); !ok {
					next = append(next, c)
					continue
				}
			}
			if err := doc.AddContainer(c); err != nil {
				r.warn("skipping container %q: %v", c.Name, err)
			}
		}
		if len(next) == len(pending) {
			for _, c := range next {
				r.warn("parent %q of container %q was not discovered", c.Parent, c.Name)
				orphan := *c
				orphan.Parent = ""
				if err := doc.AddContainer(&orphan); err != nil {
					r.warn("skipping container %q: %v", c.Name, err)
				}
			}
			return
		}
		pending = next
	}
}

// validate attaches the validation result and turns its findings into
// warnings.
func (r *run) validate(doc *document.Document) {
	result := r.s.deps.Validate(doc)
	if r.unfiltered != nil {
		r.excludeFilteredDefaults(doc, result)
	}
	r.report.Validation = result

	for _, from := range result.Referrers() {
		for _, to := range result.MissingDependencies[from] {
			r.warn("%s references undefined %s", from, to)
		}
	}
	if result.HasCycle {
		r.warn("cyclic dependency between %v", result.Cycle)
	}
	for _, w := range result.Warnings {
		r.warn("%s", w)
	}
}

// excludeFilteredDefaults drops from result the references that resolved to a
// default before defaults were filtered out. The target provides those.
func (r *run) excludeFilteredDefaults(doc *document.Document, result *dependencies.ValidationResult) {
	for from, missing := range result.MissingDependencies {
		item, ok := doc.Item(from)
		if !ok {
			continue
		}
		var kept []document.ItemKey
		for _, to := range missing {
			if r.isFilteredDefault(item, to) {
				r.logger.V(4).Info("Reference left to target default", logging.ItemKey, from, "reference", to)
				continue
			}
			kept = append(kept, to)
		}
		if len(kept) == 0 {
			delete(result.MissingDependencies, from)
		} else {
			result.MissingDependencies[from] = kept
		}
	}
	result.Valid = !result.HasCycle && len(result.MissingDependencies) == 0
}

func (r *run) isFilteredDefault(item *document.Item, missing document.ItemKey) bool {
	for _, ref := range item.References {
		if ref.Name != missing.Name {
			continue
		}
		target, ok := r.unfiltered.Item(r.s.deps.ResolveReference(r.unfiltered, item, ref))
		if ok && target.IsDefault {
			return true
		}
	}
	return false
}
