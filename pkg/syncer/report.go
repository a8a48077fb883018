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
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/confsync/confsync/pkg/conflict"
	"github.com/confsync/confsync/pkg/defaults"
	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote"
)

// Mode distinguishes the two flows.
type Mode string

const (
	ModeCapture Mode = "capture"
	ModeApply   Mode = "apply"
)

// State is a step of a run.
type State string

const (
	StateIdle               State = "Idle"
	StateDiscovering        State = "Discovering"
	StateCapturingItems     State = "CapturingItems"
	StateClassifying        State = "Classifying"
	StateValidating         State = "Validating"
	StateDetectingConflicts State = "DetectingConflicts"
	StateResolving          State = "Resolving"
	StateApplying           State = "Applying"
	StateDryRun             State = "DryRun"
	StateDone               State = "Done"
	StateFailed             State = "Failed"
	StateCancelled          State = "Cancelled"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Transition records entering a state.
type Transition struct {
	State State
	At    time.Time
}

// Outcome is what happened to one item during apply.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeFailed           Outcome = "failed"
	OutcomeDryRun           Outcome = "dry-run-would-apply"
	OutcomeDependencyFailed Outcome = "skipped-due-to-dependency-failure"
)

// ItemOutcome is the per-item result of an apply run.
type ItemOutcome struct {
	Key     document.ItemKey
	Outcome Outcome
	// Operation is the write performed, or that would be performed in a dry
	// run.
	Operation remote.Operation
	// RenamedFrom holds the original name of a renamed item.
	RenamedFrom string
	// ID is the remote identity after a successful write.
	ID  string
	Err error
}

// Report is the structured result of a run. Callers must inspect Errors even
// when State is StateDone.
type Report struct {
	RunID       string
	Mode        Mode
	DryRun      bool
	State       State
	Transitions []Transition
	StartedAt   time.Time
	FinishedAt  time.Time

	// Document is the captured document, or the resolved copy of the applied
	// one. It is kept when a run is cancelled or fails.
	Document     *document.Document
	CountsByType map[document.ItemType]int

	Classification *defaults.Stats
	Validation     *dependencies.ValidationResult
	Conflicts      *conflict.Report
	// ConflictDetails lists every detected conflict in key order.
	ConflictDetails []*conflict.Conflict

	Outcomes []ItemOutcome
	Errors   []*SyncError
	Warnings []string

	// Cause is the root cause of a Failed or Cancelled run.
	Cause error
}

// Err aggregates Cause and every recorded error.
func (r *Report) Err() error {
	var errs []error
	if r.Cause != nil {
		errs = append(errs, r.Cause)
	}
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return utilerrors.NewAggregate(errs)
}

// OutcomeCounts returns the number of items per outcome.
func (r *Report) OutcomeCounts() map[Outcome]int {
	out := make(map[Outcome]int)
	for _, o := range r.Outcomes {
		out[o.Outcome]++
	}
	return out
}

// Outcome returns the outcome recorded for key, looking up renamed items by
// their current key.
func (r *Report) Outcome(key document.ItemKey) (ItemOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Key == key {
			return o, true
		}
	}
	return ItemOutcome{}, false
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
