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
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/confsync/confsync/pkg/conflict"
	"github.com/confsync/confsync/pkg/defaults"
	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote"
	"github.com/confsync/confsync/pkg/syncer/logging"
)

// Syncer runs captures and applies against one remote client. Each call to
// Capture or Apply is an independent run; a Syncer may be reused but runs
// must not overlap on the same document.
type Syncer struct {
	client     remote.Client
	opts       Options
	clock      clock.PassiveClock
	metrics    *Metrics
	classifier *defaults.Classifier
	deps       *dependencies.Resolver

	keyStrategies map[document.ItemKey]conflict.Strategy
}

// Option customises a Syncer.
type Option func(*Syncer)

// WithClock sets the clock used for timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Syncer) { s.clock = c }
}

// WithMetrics records run metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *defaults.Classifier) Option {
	return func(s *Syncer) { s.classifier = c }
}

// WithConflictStrategyFor selects the strategy for the conflict on one key,
// taking precedence over the options.
func WithConflictStrategyFor(key document.ItemKey, strategy conflict.Strategy) Option {
	return func(s *Syncer) { s.keyStrategies[key] = strategy }
}

// NewSyncer validates opts and returns a Syncer.
func NewSyncer(client remote.Client, opts Options, options ...Option) (*Syncer, error) {
	if client == nil {
		return nil, fmt.Errorf("remote client cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	s := &Syncer{
		client:        client,
		opts:          opts,
		clock:         clock.RealClock{},
		classifier:    defaults.NewClassifier(),
		deps:          dependencies.NewResolver(),
		keyStrategies: make(map[document.ItemKey]conflict.Strategy),
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// run carries the state of one Capture or Apply call.
type run struct {
	s      *Syncer
	report *Report
	logger logr.Logger

	// unfiltered is the classified document before defaults were filtered
	// out, or nil when nothing was filtered.
	unfiltered *document.Document
}

func (s *Syncer) newRun(ctx context.Context, mode Mode) (context.Context, *run) {
	now := s.clock.Now()
	r := &run{
		s: s,
		report: &Report{
			RunID:        uuid.NewString(),
			Mode:         mode,
			DryRun:       mode == ModeApply && s.opts.DryRun,
			State:        StateIdle,
			Transitions:  []Transition{{State: StateIdle, At: now}},
			StartedAt:    now,
			CountsByType: map[document.ItemType]int{},
		},
	}
	r.logger = klog.FromContext(ctx).WithValues(logging.RunID, r.report.RunID, logging.RunMode, mode)
	return klog.NewContext(ctx, r.logger), r
}

func (r *run) transition(state State) {
	r.report.State = state
	r.report.Transitions = append(r.report.Transitions, Transition{State: state, At: r.s.clock.Now()})
	r.logger.V(2).Info("Run changed state", logging.RunState, state)
}

func (r *run) progress(message string, current, total int) {
	if r.s.opts.Progress != nil {
		r.s.opts.Progress.Progress(message, current, total)
	}
}

func (r *run) addError(err *SyncError) {
	r.report.Errors = append(r.report.Errors, err)
	r.logger.V(2).Info("Recorded error", "kind", err.Kind, "err", err.Err)
}

func (r *run) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.report.Warnings = append(r.report.Warnings, msg)
	r.logger.V(2).Info("Warning", "msg", msg)
}

// finish moves the run to a terminal state and returns the report with the
// error the caller should see.
func (r *run) finish(state State, cause error) (*Report, error) {
	if !state.Terminal() {
		panic(fmt.Sprintf("run cannot finish in state %s", state))
	}
	r.report.Cause = cause
	r.transition(state)
	r.report.FinishedAt = r.report.Transitions[len(r.report.Transitions)-1].At
	if r.report.Document != nil && state != StateDone {
		r.report.CountsByType = r.report.Document.CountByType()
	}
	r.s.metrics.recordRun(r.report)

	switch state {
	case StateFailed:
		r.logger.Error(cause, "Run failed")
	case StateCancelled:
		r.logger.Info("Run cancelled", "outcomes", len(r.report.Outcomes))
	default:
		r.logger.Info("Run finished", "errors", len(r.report.Errors), "warnings", len(r.report.Warnings))
	}
	return r.report, cause
}

func (r *run) fail(err error) (*Report, error) {
	return r.finish(StateFailed, err)
}

func (r *run) cancel(ctx context.Context) (*Report, error) {
	return r.finish(StateCancelled, &SyncError{Kind: KindCancelled, Err: context.Cause(ctx)})
}

// slice addresses the items of one type held by one container.
type slice struct {
	container string
	itemType  document.ItemType
}

type fetchResult struct {
	items []*document.Item
	err   error
}

// fetchAll lists every slice with at most Concurrency calls in flight. The
// results are indexed like slices. Fetches not yet started when ctx is done
// report the context error.
func (s *Syncer) fetchAll(ctx context.Context, slices []slice) []fetchResult {
	results := make([]fetchResult, len(slices))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, sl := range slices {
		i, sl := i, sl
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			results[i].items, results[i].err = s.client.ListItems(ctx, sl.container, sl.itemType)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// classify runs the classifier according to the options and returns the
// document to continue with.
func (r *run) classify(doc *document.Document) *document.Document {
	if r.s.opts.Defaults == DefaultsIgnore {
		return doc
	}
	stats := r.s.classifier.Classify(doc)
	r.report.Classification = &stats
	r.logger.V(2).Info("Classified defaults", "total", stats.Total, "defaults", stats.Defaults)
	if r.s.opts.Defaults == DefaultsFilter {
		r.unfiltered = doc
		doc = defaults.Filter(doc, false)
	}
	return doc
}
