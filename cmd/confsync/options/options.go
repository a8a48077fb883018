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

package options

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/confsync/confsync/pkg/conflict"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote"
	"github.com/confsync/confsync/pkg/syncer"
)

// Options contains the command line configuration shared by all confsync
// commands.
type Options struct {
	// Environment connection
	Environment string
	Snapshot    string

	// Capture selection
	Containers []string
	ItemTypes  []string
	Source     string

	// Processing
	Defaults    string
	Concurrency int

	// Apply behaviour
	DryRun            bool
	Strict            bool
	Strategy          string
	StrategyOverrides map[string]string

	// Remote retries
	RetrySteps int
	RetryDelay time.Duration

	// Output
	MetricsFile string
	NoColor     bool
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	defaults := syncer.DefaultOptions()
	return &Options{
		Defaults:          string(defaults.Defaults),
		Concurrency:       defaults.Concurrency,
		Strategy:          string(defaults.Strategy),
		StrategyOverrides: map[string]string{},
		RetrySteps:        remote.DefaultBackoff.Steps,
		RetryDelay:        remote.DefaultBackoff.Duration,
	}
}

// AddFlags adds the flags every command accepts.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Defaults, "defaults", o.Defaults,
		"How vendor defaults are handled: ignore, detect or filter")
	fs.IntVar(&o.Concurrency, "concurrency", o.Concurrency,
		"Maximum number of parallel reads from the environment")
	fs.IntVar(&o.RetrySteps, "retry-steps", o.RetrySteps,
		"Number of attempts for remote calls failing with a transient error")
	fs.DurationVar(&o.RetryDelay, "retry-delay", o.RetryDelay,
		"Initial delay between retries of a remote call")
	fs.StringVar(&o.MetricsFile, "metrics-file", o.MetricsFile,
		"Write run metrics in Prometheus text format to this file")
	fs.BoolVar(&o.NoColor, "no-color", o.NoColor,
		"Disable colored output")
}

// AddEnvironmentFlag adds the flag naming the environment file.
func (o *Options) AddEnvironmentFlag(fs *pflag.FlagSet) {
	fs.StringVar(&o.Environment, "environment", o.Environment,
		"Path to the YAML file holding the remote environment")
}

// AddSnapshotFlag adds the flag naming the snapshot file.
func (o *Options) AddSnapshotFlag(fs *pflag.FlagSet) {
	fs.StringVar(&o.Snapshot, "snapshot", o.Snapshot,
		"Path to the snapshot file to read or write")
}

// AddCaptureFlags adds the flags of the capture command.
func (o *Options) AddCaptureFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&o.Containers, "containers", o.Containers,
		"Containers to capture, together with their ancestors. Empty captures all")
	fs.StringSliceVar(&o.ItemTypes, "types", o.ItemTypes,
		"Item types to capture. Empty captures all")
	fs.StringVar(&o.Source, "source", o.Source,
		"Name recorded as the origin of the snapshot")
}

// AddApplyFlags adds the flags of the apply command.
func (o *Options) AddApplyFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.DryRun, "dry-run", o.DryRun,
		"Report what would be written without writing")
	fs.BoolVar(&o.Strict, "strict", o.Strict,
		"Fail when an item references something that is not defined")
	fs.StringVar(&o.Strategy, "strategy", o.Strategy,
		"Conflict resolution strategy, one of: "+strategyNames())
	fs.StringToStringVar(&o.StrategyOverrides, "strategy-override", o.StrategyOverrides,
		"Per item type strategy, for example address=rename,tag=overwrite")
}

func strategyNames() string {
	var names []string
	for _, s := range conflict.NewResolver(conflict.Skip, nil).SupportedStrategies() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

// Validate checks the options.
func (o *Options) Validate() error {
	var errs []error
	if o.RetrySteps < 1 {
		errs = append(errs, errors.New("--retry-steps must be at least 1"))
	}
	if o.RetryDelay < 0 {
		errs = append(errs, errors.New("--retry-delay must not be negative"))
	}
	if _, err := o.SyncerOptions(); err != nil {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

// SyncerOptions converts the flags to syncer options.
func (o *Options) SyncerOptions() (syncer.Options, error) {
	opts := syncer.DefaultOptions()
	opts.Scope = remote.Scope{Containers: o.Containers}
	opts.Defaults = syncer.DefaultHandling(o.Defaults)
	opts.Concurrency = o.Concurrency
	opts.DryRun = o.DryRun
	opts.Strict = o.Strict
	opts.Source = o.Source

	var errs []error
	for _, t := range o.ItemTypes {
		itemType, err := document.ParseItemType(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		opts.ItemTypes = append(opts.ItemTypes, itemType)
	}

	strategy, err := conflict.ParseStrategy(o.Strategy)
	if err != nil {
		errs = append(errs, fmt.Errorf("--strategy: %w", err))
	}
	opts.Strategy = strategy

	if len(o.StrategyOverrides) > 0 {
		opts.StrategyOverrides = make(map[document.ItemType]conflict.Strategy, len(o.StrategyOverrides))
	}
	for _, t := range sets.List(sets.KeySet(o.StrategyOverrides)) {
		s := o.StrategyOverrides[t]
		itemType, err := document.ParseItemType(t)
		if err != nil {
			errs = append(errs, fmt.Errorf("--strategy-override: %w", err))
			continue
		}
		strategy, err := conflict.ParseStrategy(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("--strategy-override %s: %w", t, err))
			continue
		}
		opts.StrategyOverrides[itemType] = strategy
	}

	if err := utilerrors.NewAggregate(errs); err != nil {
		return syncer.Options{}, err
	}
	if err := opts.Validate(); err != nil {
		return syncer.Options{}, err
	}
	return opts, nil
}

// Backoff returns the retry policy for remote calls.
func (o *Options) Backoff() wait.Backoff {
	backoff := remote.DefaultBackoff
	backoff.Steps = o.RetrySteps
	backoff.Duration = o.RetryDelay
	return backoff
}
