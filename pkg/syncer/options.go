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

// Package syncer drives capture and apply runs against a remote
// configuration service.
package syncer

import (
	"errors"
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/confsync/confsync/pkg/conflict"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote"
)

// DefaultHandling selects what a run does with environment-provided items.
type DefaultHandling string

const (
	// DefaultsIgnore skips classification.
	DefaultsIgnore DefaultHandling = "ignore"
	// DefaultsDetect marks defaults but keeps them.
	DefaultsDetect DefaultHandling = "detect"
	// DefaultsFilter marks defaults and drops them from the document.
	DefaultsFilter DefaultHandling = "filter"
)

// Options configures a Syncer. The zero value is not valid; start from
// DefaultOptions.
type Options struct {
	// Scope selects the containers a capture reads.
	Scope remote.Scope
	// ItemTypes restricts capture to these types. Empty means every type.
	ItemTypes []document.ItemType
	// Defaults selects how default items are handled by both flows.
	Defaults DefaultHandling
	// DryRun makes apply record what it would write instead of writing.
	DryRun bool
	// Strict makes missing dependencies fatal for apply.
	Strict bool
	// Strategy resolves conflicts that have no more specific override.
	Strategy conflict.Strategy
	// StrategyOverrides selects a conflict strategy per item type.
	StrategyOverrides map[document.ItemType]conflict.Strategy
	// Concurrency bounds parallel reads.
	Concurrency int
	// Source is recorded as the origin of captured documents.
	Source string
	// Progress receives item-level progress. May be nil.
	Progress ProgressSink
}

// DefaultOptions returns options that capture everything, detect defaults
// and skip conflicting items.
func DefaultOptions() Options {
	return Options{
		Scope:       remote.AllContainers(),
		Defaults:    DefaultsDetect,
		Strategy:    conflict.Skip,
		Concurrency: 4,
	}
}

// Validate checks every option and reports all problems at once.
func (o Options) Validate() error {
	var errs []error

	for _, t := range o.ItemTypes {
		if !t.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q", document.ErrUnknownType, t))
		}
	}
	switch o.Defaults {
	case DefaultsIgnore, DefaultsDetect, DefaultsFilter:
	default:
		errs = append(errs, fmt.Errorf("unknown default handling %q", o.Defaults))
	}
	if _, err := conflict.ParseStrategy(string(o.Strategy)); err != nil {
		errs = append(errs, err)
	}
	for t, s := range o.StrategyOverrides {
		if !t.Valid() {
			errs = append(errs, fmt.Errorf("strategy override: %w: %q", document.ErrUnknownType, t))
		}
		if _, err := conflict.ParseStrategy(string(s)); err != nil {
			errs = append(errs, fmt.Errorf("strategy override for %s: %w", t, err))
		}
	}
	if o.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	return utilerrors.NewAggregate(errs)
}

func (o Options) itemTypes() []document.ItemType {
	if len(o.ItemTypes) == 0 {
		return document.AllTypes()
	}
	// Keep catalogue order whatever order the caller used.
	wanted := make(map[document.ItemType]bool, len(o.ItemTypes))
	for _, t := range o.ItemTypes {
		wanted[t] = true
	}
	var out []document.ItemType
	for _, t := range document.AllTypes() {
		if wanted[t] {
			out = append(out, t)
		}
	}
	return out
}

// ProgressSink receives a message with (current, total) counters at every
// item-level step.
type ProgressSink interface {
	Progress(message string, current, total int)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(message string, current, total int)

func (f ProgressFunc) Progress(message string, current, total int) {
	f(message, current, total)
}
