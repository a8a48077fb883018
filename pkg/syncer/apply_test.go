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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/pkg/conflict"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote"
	"github.com/confsync/confsync/pkg/remote/memory"
)

var (
	keyA    = key(document.TypeAddress, "Shared", "a")
	keyB    = key(document.TypeAddressGroup, "Shared", "b")
	keyC    = key(document.TypeSecurityRule, "Shared", "c")
	keyOps  = key(document.TypeTag, "Shared", "ops")
	keyWeb  = key(document.TypeAddress, "Shared", "web")
	keyRule = key(document.TypeSecurityRule, "Shared", "web-rule")
)

// chainDocument holds a rule that depends on a group that depends on an
// address, plus an unrelated tag.
func chainDocument(t *testing.T) *document.Document {
	return newDocument(t, []*document.Container{{Name: "Shared"}},
		item(document.TypeSecurityRule, "Shared", "c", map[string]interface{}{"source": refs("b"), "destination": refs("any")}),
		item(document.TypeAddressGroup, "Shared", "b", map[string]interface{}{"static": refs("a")}),
		item(document.TypeAddress, "Shared", "a", map[string]interface{}{"ip_netmask": "10.0.0.1/32"}),
		item(document.TypeTag, "Shared", "ops", nil),
	)
}

func writtenKeys(env *memory.Environment) []document.ItemKey {
	var out []document.ItemKey
	for _, w := range env.Writes() {
		out = append(out, w.Key)
	}
	return out
}

func newTestSyncer(t *testing.T, client remote.Client, mutate func(*Options), options ...Option) *Syncer {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSyncer(client, opts, options...)
	require.NoError(t, err)
	return s
}

func TestApplyWritesDependenciesFirst(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	in := chainDocument(t)
	s := newTestSyncer(t, env, nil)

	report, err := s.Apply(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, []State{StateIdle, StateValidating, StateDetectingConflicts, StateResolving, StateApplying, StateDone}, states(report))
	assert.Equal(t, []document.ItemKey{keyA, keyB, keyC, keyOps}, writtenKeys(env))
	assert.Equal(t, map[Outcome]int{OutcomeApplied: 4}, report.OutcomeCounts())
	assert.NoError(t, report.Err())

	for _, o := range report.Outcomes {
		assert.NotEmpty(t, o.ID, "item %s should carry the remote id", o.Key)
		assert.Equal(t, remote.OperationCreate, o.Operation)
	}
	a, ok := in.Item(keyA)
	require.True(t, ok)
	assert.Empty(t, a.ID, "the input document is not modified")
}

func TestApplyReportsProgressInWriteOrder(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	var messages []string
	s := newTestSyncer(t, env, func(o *Options) {
		o.Progress = ProgressFunc(func(msg string, current, total int) {
			messages = append(messages, fmt.Sprintf("%s %d/%d", msg, current, total))
		})
	})

	_, err := s.Apply(context.Background(), chainDocument(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"applied address/Shared/a 1/4",
		"applied address-group/Shared/b 2/4",
		"applied security-rule/Shared/c 3/4",
		"applied tag/Shared/ops 4/4",
	}, messages)
}

func TestApplyCycleFailsBeforeWriting(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	in := newDocument(t, []*document.Container{{Name: "Shared"}},
		item(document.TypeAddressGroup, "Shared", "g1", map[string]interface{}{"static": refs("g2")}),
		item(document.TypeAddressGroup, "Shared", "g2", map[string]interface{}{"static": refs("g1")}),
		item(document.TypeTag, "Shared", "ops", nil),
	)
	s := newTestSyncer(t, env, nil)

	report, err := s.Apply(context.Background(), in)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCyclicDependency))
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, []State{StateIdle, StateValidating, StateFailed}, states(report))
	assert.Empty(t, env.Writes())
	assert.Empty(t, report.Outcomes)
	assert.True(t, report.Validation.HasCycle)
}

func TestApplyMissingDependency(t *testing.T) {
	tests := map[string]struct {
		strict    bool
		wantState State
		wantErr   bool
		wantKeys  []document.ItemKey
	}{
		"lenient applies with a warning": {
			wantState: StateDone,
			wantKeys:  []document.ItemKey{keyC},
		},
		"strict fails": {
			strict:    true,
			wantState: StateFailed,
			wantErr:   true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
			in := newDocument(t, []*document.Container{{Name: "Shared"}},
				item(document.TypeSecurityRule, "Shared", "c", map[string]interface{}{"source": refs("ghost")}),
			)
			s := newTestSyncer(t, env, func(o *Options) { o.Strict = tc.strict })

			report, err := s.Apply(context.Background(), in)
			assert.Equal(t, tc.wantState, report.State)
			assert.Equal(t, tc.wantKeys, writtenKeys(env))
			assert.Equal(t, 1, report.Validation.MissingCount())
			if !tc.wantErr {
				require.NoError(t, err)
				require.NotEmpty(t, report.Warnings)
				assert.Contains(t, report.Warnings[0], "ghost")
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindMissingDependency))
			require.Len(t, report.Errors, 1)
			assert.Equal(t, keyC, report.Errors[0].Key)
		})
	}
}

// conflictEnvironment holds an address and a rule that collide with the ones
// in conflictDocument.
func conflictEnvironment(t *testing.T) *memory.Environment {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}},
		item(document.TypeAddress, "Shared", "web", map[string]interface{}{"ip_netmask": "10.0.0.9/32"}),
		item(document.TypeSecurityRule, "Shared", "web-rule", map[string]interface{}{"source": refs("any")}),
	)
	return env
}

func conflictDocument(t *testing.T) *document.Document {
	return newDocument(t, []*document.Container{{Name: "Shared"}},
		item(document.TypeAddress, "Shared", "web", map[string]interface{}{"ip_netmask": "10.0.0.1/32"}),
		item(document.TypeSecurityRule, "Shared", "web-rule", map[string]interface{}{"source": refs("web")}),
		item(document.TypeTag, "Shared", "ops", nil),
	)
}

func TestApplyRenameRewritesReferrers(t *testing.T) {
	env := conflictEnvironment(t)
	s := newTestSyncer(t, env, func(o *Options) { o.Strategy = conflict.Rename })

	report, err := s.Apply(context.Background(), conflictDocument(t))
	require.NoError(t, err)

	renamedWeb := key(document.TypeAddress, "Shared", "web-1")
	renamedRule := key(document.TypeSecurityRule, "Shared", "web-rule-1")
	assert.Equal(t, []document.ItemKey{renamedWeb, renamedRule, keyOps}, writtenKeys(env))

	target := env.Document()
	rule, ok := target.Item(renamedRule)
	require.True(t, ok)
	assert.Equal(t, refs("web-1"), rule.Payload["source"])

	original, ok := target.Item(keyWeb)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9/32", original.Payload["ip_netmask"], "the existing item is untouched")

	outcome, ok := report.Outcome(renamedRule)
	require.True(t, ok)
	assert.Equal(t, "web-rule", outcome.RenamedFrom)
	assert.Equal(t, OutcomeApplied, outcome.Outcome)
	require.NotNil(t, report.Conflicts)
	assert.Equal(t, 2, report.Conflicts.ConflictCount)
}

func TestApplyOverwriteUpdatesExisting(t *testing.T) {
	env := conflictEnvironment(t)
	existing, ok := env.Document().Item(keyWeb)
	require.True(t, ok)

	s := newTestSyncer(t, env, func(o *Options) { o.Strategy = conflict.Overwrite })
	report, err := s.Apply(context.Background(), conflictDocument(t))
	require.NoError(t, err)

	assert.Equal(t, []memory.Write{
		{Key: keyWeb, Operation: remote.OperationUpdate},
		{Key: keyRule, Operation: remote.OperationUpdate},
		{Key: keyOps, Operation: remote.OperationCreate},
	}, env.Writes())

	web, ok := env.Document().Item(keyWeb)
	require.True(t, ok)
	assert.Equal(t, existing.ID, web.ID)
	assert.Equal(t, "10.0.0.1/32", web.Payload["ip_netmask"])

	outcome, _ := report.Outcome(keyWeb)
	assert.Equal(t, remote.OperationUpdate, outcome.Operation)
	assert.Equal(t, existing.ID, outcome.ID)
}

func TestApplySkipLeavesTargetAlone(t *testing.T) {
	env := conflictEnvironment(t)
	s := newTestSyncer(t, env, nil)

	report, err := s.Apply(context.Background(), conflictDocument(t))
	require.NoError(t, err)

	assert.Equal(t, []document.ItemKey{keyOps}, writtenKeys(env))
	assert.Equal(t, map[document.ItemKey]Outcome{
		keyWeb:  OutcomeSkipped,
		keyRule: OutcomeSkipped,
		keyOps:  OutcomeApplied,
	}, outcomes(report))
}

func TestApplyConflictStrategyPrecedence(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}},
		item(document.TypeAddress, "Shared", "web", nil),
		item(document.TypeAddress, "Shared", "db", nil),
		item(document.TypeTag, "Shared", "ops", nil),
	)
	in := newDocument(t, []*document.Container{{Name: "Shared"}},
		item(document.TypeAddress, "Shared", "web", nil),
		item(document.TypeAddress, "Shared", "db", nil),
		item(document.TypeTag, "Shared", "ops", nil),
	)
	s := newTestSyncer(t, env, func(o *Options) {
		o.StrategyOverrides = map[document.ItemType]conflict.Strategy{document.TypeAddress: conflict.Overwrite}
	}, WithConflictStrategyFor(keyWeb, conflict.Rename))

	report, err := s.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, map[document.ItemKey]Outcome{
		key(document.TypeAddress, "Shared", "db"):    OutcomeApplied,
		key(document.TypeAddress, "Shared", "web-1"): OutcomeApplied,
		keyOps: OutcomeSkipped,
	}, outcomes(report))

	db, _ := report.Outcome(key(document.TypeAddress, "Shared", "db"))
	assert.Equal(t, remote.OperationUpdate, db.Operation)
}

func TestApplyMergeIsUnsupported(t *testing.T) {
	env := conflictEnvironment(t)
	s := newTestSyncer(t, env, func(o *Options) {
		o.StrategyOverrides = map[document.ItemType]conflict.Strategy{document.TypeAddress: conflict.Merge}
		o.Strategy = conflict.Rename
	})

	report, err := s.Apply(context.Background(), conflictDocument(t))
	require.NoError(t, err)
	assert.Equal(t, StateDone, report.State)

	assert.Equal(t, map[document.ItemKey]Outcome{
		keyWeb: OutcomeFailed,
		key(document.TypeSecurityRule, "Shared", "web-rule-1"): OutcomeDependencyFailed,
		keyOps: OutcomeApplied,
	}, outcomes(report))
	require.Len(t, report.Errors, 1)
	assert.Equal(t, KindUnsupportedStrategy, report.Errors[0].Kind)
	assert.ErrorIs(t, report.Errors[0], conflict.ErrUnsupportedStrategy)
	assert.Equal(t, []document.ItemKey{keyOps}, writtenKeys(env))
}

func TestApplyWriteFailureSkipsDependents(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	env.FailWrite(keyA, remote.NewPermissionDenied("create-item", keyA.String()))
	s := newTestSyncer(t, env, nil)

	report, err := s.Apply(context.Background(), chainDocument(t))
	require.NoError(t, err)

	assert.Equal(t, StateDone, report.State)
	assert.Equal(t, map[document.ItemKey]Outcome{
		keyA:   OutcomeFailed,
		keyB:   OutcomeDependencyFailed,
		keyC:   OutcomeDependencyFailed,
		keyOps: OutcomeApplied,
	}, outcomes(report))
	assert.Equal(t, []document.ItemKey{keyOps}, writtenKeys(env))

	require.Len(t, report.Errors, 1)
	assert.Equal(t, remote.ReasonPermissionDenied, report.Errors[0].Reason())
	c, _ := report.Outcome(keyC)
	assert.ErrorContains(t, c.Err, keyA.String())
}

func TestApplyInventoryFailureBlocksSlice(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	env.FailListItems("Shared", document.TypeAddressGroup, remote.NewTransient("list-items", errors.New("timeout")))
	s := newTestSyncer(t, env, nil)

	report, err := s.Apply(context.Background(), chainDocument(t))
	require.NoError(t, err)

	assert.Equal(t, map[document.ItemKey]Outcome{
		keyA:   OutcomeApplied,
		keyB:   OutcomeFailed,
		keyC:   OutcomeDependencyFailed,
		keyOps: OutcomeApplied,
	}, outcomes(report))
	assert.Equal(t, []document.ItemKey{keyA, keyOps}, writtenKeys(env))
	require.Len(t, report.Errors, 1)
	assert.Equal(t, document.TypeAddressGroup, report.Errors[0].Type)
}

func TestApplyMissingContainerInTarget(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Other"}})
	s := newTestSyncer(t, env, nil)

	report, err := s.Apply(context.Background(), chainDocument(t))
	require.NoError(t, err)

	assert.Equal(t, map[document.ItemKey]Outcome{
		keyA:   OutcomeFailed,
		keyB:   OutcomeDependencyFailed,
		keyC:   OutcomeDependencyFailed,
		keyOps: OutcomeFailed,
	}, outcomes(report))
	assert.True(t, remote.IsNotFound(report.Errors[0]))
}

func TestApplyDryRun(t *testing.T) {
	env := conflictEnvironment(t)
	s := newTestSyncer(t, env, func(o *Options) {
		o.DryRun = true
		o.Strategy = conflict.Rename
	})

	report, err := s.Apply(context.Background(), conflictDocument(t))
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Contains(t, states(report), StateDryRun)
	assert.NotContains(t, states(report), StateApplying)
	assert.Empty(t, env.Writes())
	assert.Equal(t, map[Outcome]int{OutcomeDryRun: 3}, report.OutcomeCounts())

	rule, ok := report.Document.Item(key(document.TypeSecurityRule, "Shared", "web-rule-1"))
	require.True(t, ok)
	assert.Equal(t, refs("web-1"), rule.Payload["source"], "the report shows the rewritten document")
}

func TestApplyFiltersDefaults(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	in := newDocument(t, []*document.Container{{Name: "Shared"}},
		item(document.TypeService, "Shared", "service-https", nil),
		item(document.TypeService, "Shared", "web-8443", nil),
	)
	s := newTestSyncer(t, env, func(o *Options) { o.Defaults = DefaultsFilter })

	report, err := s.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []document.ItemKey{key(document.TypeService, "Shared", "web-8443")}, writtenKeys(env))
	assert.Equal(t, 1, report.Classification.Defaults)
}

func TestApplyStrictAcceptsReferencesToFilteredDefaults(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	in := newDocument(t, []*document.Container{{Name: "Shared"}},
		item(document.TypeService, "Shared", "service-https", nil),
		item(document.TypeSecurityRule, "Shared", "c", map[string]interface{}{
			"service": refs("service-https"),
			"source":  refs("ghost"),
		}),
		item(document.TypeSecurityRule, "Shared", "d", map[string]interface{}{"service": refs("service-https")}),
	)

	t.Run("strict still fails on undefined references", func(t *testing.T) {
		s := newTestSyncer(t, env, func(o *Options) {
			o.Defaults = DefaultsFilter
			o.Strict = true
		})
		report, err := s.Apply(context.Background(), in)
		require.Error(t, err)
		assert.Equal(t, StateFailed, report.State)
		assert.Equal(t, map[document.ItemKey][]document.ItemKey{
			keyC: {key(document.TypeAddress, "Shared", "ghost")},
		}, report.Validation.MissingDependencies)
		assert.Empty(t, writtenKeys(env))
	})

	t.Run("filtered defaults are not missing", func(t *testing.T) {
		without := in.Select(func(i *document.Item) bool { return i.Name != "c" })
		s := newTestSyncer(t, env, func(o *Options) {
			o.Defaults = DefaultsFilter
			o.Strict = true
		})
		report, err := s.Apply(context.Background(), without)
		require.NoError(t, err)
		assert.Equal(t, StateDone, report.State)
		assert.True(t, report.Validation.Valid)
		assert.Zero(t, report.Validation.MissingCount())
		assert.Equal(t, []document.ItemKey{key(document.TypeSecurityRule, "Shared", "d")}, writtenKeys(env))
	})
}

func TestApplyCancellation(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestSyncer(t, env, func(o *Options) {
		o.Progress = ProgressFunc(func(string, int, int) { cancel() })
	})

	report, err := s.Apply(ctx, chainDocument(t))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCancelled))
	assert.Equal(t, StateCancelled, report.State)
	assert.Equal(t, []document.ItemKey{keyA}, writtenKeys(env))
	assert.Len(t, report.Outcomes, 1)
}

func TestApplyCancelledBeforeStart(t *testing.T) {
	env := newEnvironment(t, []*document.Container{{Name: "Shared"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSyncer(t, env, nil)
	report, err := s.Apply(ctx, chainDocument(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []State{StateIdle, StateCancelled}, states(report))
	assert.Empty(t, env.Writes())
}
