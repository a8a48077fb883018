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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
)

func key(typ document.ItemType, name string) document.ItemKey {
	return document.ItemKey{Type: typ, Container: "Shared", Name: name}
}

func existing(typ document.ItemType, name, id string, payload map[string]interface{}) *document.Item {
	return &document.Item{Type: typ, Container: "Shared", Name: name, ID: id, Payload: payload}
}

// newIncoming returns a document with an address "web", a group and a rule
// that reference it, and a standalone tag.
func newIncoming(t *testing.T) *document.Document {
	t.Helper()
	doc := document.New(document.Metadata{Source: "source"})
	require.NoError(t, doc.AddContainer(&document.Container{Name: "Shared"}))
	require.NoError(t, doc.AddContainer(&document.Container{Name: "Branch", Parent: "Shared"}))
	for _, item := range []*document.Item{
		{Type: document.TypeAddress, Container: "Shared", Name: "web", Payload: map[string]interface{}{"ip_netmask": "10.0.0.10/32"}},
		{Type: document.TypeAddressGroup, Container: "Shared", Name: "servers", Payload: map[string]interface{}{"static": []interface{}{"web"}}},
		{Type: document.TypeSecurityRule, Container: "Branch", Name: "web-rule", Payload: map[string]interface{}{
			"source":      []interface{}{"any"},
			"destination": []interface{}{"web", "servers"},
		}},
		{Type: document.TypeTag, Container: "Shared", Name: "prod"},
	} {
		require.NoError(t, doc.AddItem(item))
	}
	return doc
}

func TestDetectConflicts(t *testing.T) {
	doc := newIncoming(t)
	inv := NewInventory(
		existing(document.TypeTag, "prod", "t-1", nil),
		existing(document.TypeAddress, "web", "a-1", map[string]interface{}{"ip_netmask": "10.0.0.99/32"}),
		existing(document.TypeAddress, "unrelated", "a-2", nil),
	)

	r := NewResolver(Skip, nil)
	conflicts := r.DetectConflicts(context.Background(), inv, doc)
	require.Len(t, conflicts, 2)

	assert.Equal(t, key(document.TypeAddress, "web"), conflicts[0].Key)
	assert.JSONEq(t, `{"ip_netmask":"10.0.0.10/32"}`, string(conflicts[0].Diff))
	assert.False(t, conflicts[0].Identical())

	assert.Equal(t, key(document.TypeTag, "prod"), conflicts[1].Key)
	assert.True(t, conflicts[1].Identical())
	assert.Equal(t, Skip, conflicts[1].Resolution)

	grouped := GroupByType(conflicts)
	assert.Len(t, grouped[document.TypeAddress], 1)
	assert.Len(t, grouped[document.TypeTag], 1)

	report := r.Report()
	assert.Equal(t, 2, report.ConflictCount)
	assert.Equal(t, map[Strategy]int{Skip: 2}, report.ByResolution)
}

func TestResolveSkipAndOverwrite(t *testing.T) {
	doc := newIncoming(t)
	inv := NewInventory(
		existing(document.TypeTag, "prod", "t-1", nil),
		existing(document.TypeAddress, "web", "a-1", nil),
	)

	r := NewResolver(Skip, &ResolverConfig{
		StrategyOverrides: map[document.ItemType]Strategy{document.TypeAddress: Overwrite},
	})
	ctx := context.Background()
	res, err := r.Resolve(ctx, inv, doc, r.DetectConflicts(ctx, inv, doc))
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.Equal(t, []document.ItemKey{key(document.TypeTag, "prod")}, res.Skipped)
	assert.False(t, doc.Has(key(document.TypeTag, "prod")))

	assert.Equal(t, []document.ItemKey{key(document.TypeAddress, "web")}, res.Overwritten)
	web, ok := doc.Item(key(document.TypeAddress, "web"))
	require.True(t, ok)
	assert.Equal(t, "a-1", web.ID)
	assert.Equal(t, "10.0.0.10/32", web.Payload["ip_netmask"])
	assert.False(t, res.Rebuild)

	report := r.Report()
	assert.Equal(t, map[Strategy]int{Skip: 1, Overwrite: 1}, report.ByResolution)
	assert.Equal(t, map[document.ItemType]int{document.TypeTag: 1, document.TypeAddress: 1}, report.ByType)
}

func TestResolveRenameRewritesReferrers(t *testing.T) {
	doc := newIncoming(t)
	inv := NewInventory(existing(document.TypeAddress, "web", "a-1", nil))

	r := NewResolver(Rename, nil)
	ctx := context.Background()
	res, err := r.Resolve(ctx, inv, doc, r.DetectConflicts(ctx, inv, doc))
	require.NoError(t, err)

	renamed := key(document.TypeAddress, "web-1")
	assert.True(t, res.Rebuild)
	assert.Equal(t, map[document.ItemKey]document.ItemKey{renamed: key(document.TypeAddress, "web")}, res.Renamed)
	assert.True(t, doc.Has(renamed))
	assert.False(t, doc.Has(key(document.TypeAddress, "web")))

	group, _ := doc.Item(key(document.TypeAddressGroup, "servers"))
	assert.Equal(t, []interface{}{"web-1"}, group.Payload["static"])
	rule, _ := doc.Item(document.ItemKey{Type: document.TypeSecurityRule, Container: "Branch", Name: "web-rule"})
	assert.Equal(t, []interface{}{"web-1", "servers"}, rule.Payload["destination"])

	// Rebuilding the graph leaves nothing pointing at the old name.
	deps := dependencies.NewResolver()
	result := deps.Validate(doc)
	assert.True(t, result.Valid, "missing: %v", result.MissingDependencies)
	g := deps.BuildGraph(doc)
	assert.False(t, g.HasNode(key(document.TypeAddress, "web")))
	assert.Equal(t, []document.ItemKey{
		key(document.TypeAddressGroup, "servers"),
		{Type: document.TypeSecurityRule, Container: "Branch", Name: "web-rule"},
	}, g.Dependents(renamed))
}

func TestRenameFindsFreeSuffix(t *testing.T) {
	tests := map[string]struct {
		name      string
		inventory []string
		document  []string
		maxLen    int
		want      string
	}{
		"first suffix": {
			name:      "web-rule",
			inventory: []string{"web-rule"},
			want:      "web-rule-1",
		},
		"suffix taken in target and document": {
			name:      "web",
			inventory: []string{"web", "web-1"},
			document:  []string{"web-2"},
			want:      "web-3",
		},
		"truncated to max length": {
			name:      strings.Repeat("a", 63),
			inventory: []string{strings.Repeat("a", 63)},
			want:      strings.Repeat("a", 61) + "-1",
		},
		"custom max length": {
			name:      "abcdef",
			inventory: []string{"abcdef"},
			maxLen:    5,
			want:      "abc-1",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			doc := document.New(document.Metadata{})
			require.NoError(t, doc.AddContainer(&document.Container{Name: "Shared"}))
			require.NoError(t, doc.AddItem(&document.Item{Type: document.TypeSecurityRule, Container: "Shared", Name: tc.name}))
			for _, n := range tc.document {
				require.NoError(t, doc.AddItem(&document.Item{Type: document.TypeSecurityRule, Container: "Shared", Name: n}))
			}
			inv := NewInventory()
			for _, n := range tc.inventory {
				inv.Add(existing(document.TypeSecurityRule, n, "", nil))
			}

			r := NewResolver(Rename, &ResolverConfig{MaxNameLength: tc.maxLen})
			ctx := context.Background()
			conflicts := r.DetectConflicts(ctx, inv, doc)
			_, err := r.Resolve(ctx, inv, doc, conflicts)
			require.NoError(t, err)

			var renamed *Conflict
			for _, c := range conflicts {
				if c.Key.Name == tc.name {
					renamed = c
				}
			}
			require.NotNil(t, renamed)
			assert.Equal(t, tc.want, renamed.RenamedTo)
			assert.LessOrEqual(t, len(renamed.RenamedTo), 63)
		})
	}
}

func TestRenameAvoidsNamesShadowedInChildContainers(t *testing.T) {
	branchWeb1 := &document.Item{Type: document.TypeAddress, Container: "Branch", Name: "web-1"}
	tests := map[string]struct {
		document  []*document.Item
		inventory []*document.Item
		want      string
	}{
		"child item in document": {
			document: []*document.Item{branchWeb1},
			want:     "web-2",
		},
		"child item in target": {
			inventory: []*document.Item{branchWeb1},
			want:      "web-2",
		},
		"group in child is looked up after addresses": {
			document: []*document.Item{{Type: document.TypeAddressGroup, Container: "Branch", Name: "web-1"}},
			want:     "web-1",
		},
		"unrelated type in child": {
			document: []*document.Item{{Type: document.TypeTag, Container: "Branch", Name: "web-1"}},
			want:     "web-1",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			doc := document.New(document.Metadata{})
			require.NoError(t, doc.AddContainer(&document.Container{Name: "Shared"}))
			require.NoError(t, doc.AddContainer(&document.Container{Name: "Branch", Parent: "Shared"}))
			require.NoError(t, doc.AddItem(&document.Item{Type: document.TypeAddress, Container: "Shared", Name: "web"}))
			require.NoError(t, doc.AddItem(&document.Item{Type: document.TypeAddressGroup, Container: "Branch", Name: "grp",
				Payload: map[string]interface{}{"static": []interface{}{"web"}}}))
			for _, item := range tc.document {
				require.NoError(t, doc.AddItem(item.DeepCopy()))
			}
			inv := NewInventory(existing(document.TypeAddress, "web", "a-1", nil))
			inv.Add(tc.inventory...)

			r := NewResolver(Rename, nil)
			ctx := context.Background()
			conflicts := r.DetectConflicts(ctx, inv, doc)
			require.Len(t, conflicts, 1)
			_, err := r.Resolve(ctx, inv, doc, conflicts)
			require.NoError(t, err)
			assert.Equal(t, tc.want, conflicts[0].RenamedTo)

			grp, ok := doc.Item(document.ItemKey{Type: document.TypeAddressGroup, Container: "Branch", Name: "grp"})
			require.True(t, ok)
			require.Len(t, grp.References, 1)
			got := dependencies.NewResolver().ResolveReference(doc, grp, grp.References[0])
			assert.Equal(t, key(document.TypeAddress, tc.want), got)
		})
	}
}

func TestResolveMergeIsUnsupported(t *testing.T) {
	doc := newIncoming(t)
	inv := NewInventory(existing(document.TypeAddress, "web", "a-1", nil))

	r := NewResolver(Merge, nil)
	ctx := context.Background()
	conflicts := r.DetectConflicts(ctx, inv, doc)
	res, err := r.Resolve(ctx, inv, doc, conflicts)
	require.NoError(t, err)

	webKey := key(document.TypeAddress, "web")
	require.Contains(t, res.Unresolved, webKey)
	assert.ErrorIs(t, res.Unresolved[webKey], ErrUnsupportedStrategy)
	assert.ErrorIs(t, res.Err(), ErrUnsupportedStrategy)

	var unsupported *UnsupportedStrategyError
	require.ErrorAs(t, conflicts[0].Err, &unsupported)
	assert.Equal(t, document.TypeAddress, unsupported.Type)

	// The item is neither skipped nor changed.
	assert.True(t, doc.Has(webKey))
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 1, r.Report().Unresolved)
}

// keepExisting resolves a conflict by dropping the incoming item, recording
// the keys it saw.
type keepExisting struct {
	seen []document.ItemKey
}

func (k *keepExisting) Resolve(_ context.Context, state *State, c *Conflict) error {
	k.seen = append(k.seen, c.Key)
	state.Document.RemoveItem(c.Key)
	state.Resolution.Skipped = append(state.Resolution.Skipped, c.Key)
	return nil
}

func TestRegisterStrategyReplacesHandler(t *testing.T) {
	doc := newIncoming(t)
	inv := NewInventory(existing(document.TypeAddress, "web", "a-1", nil))

	r := NewResolver(Merge, nil)
	assert.Equal(t, Strategies, r.SupportedStrategies())

	handler := &keepExisting{}
	r.RegisterStrategy(Merge, handler)
	assert.Equal(t, Strategies, r.SupportedStrategies())

	ctx := context.Background()
	res, err := r.Resolve(ctx, inv, doc, r.DetectConflicts(ctx, inv, doc))
	require.NoError(t, err)
	assert.NoError(t, res.Err())

	webKey := key(document.TypeAddress, "web")
	assert.Equal(t, []document.ItemKey{webKey}, handler.seen)
	assert.Equal(t, []document.ItemKey{webKey}, res.Skipped)
	assert.False(t, doc.Has(webKey))
}

func TestStrategyPrecedence(t *testing.T) {
	doc := newIncoming(t)
	inv := NewInventory(
		existing(document.TypeAddress, "web", "a-1", nil),
		existing(document.TypeTag, "prod", "t-1", nil),
		existing(document.TypeAddressGroup, "servers", "g-1", nil),
	)

	r := NewResolver(Skip, nil)
	r.SetStrategyOverride(document.TypeAddress, Rename)
	r.SetStrategyOverride(document.TypeTag, Rename)
	r.SetStrategy(key(document.TypeTag, "prod"), Overwrite)

	conflicts := r.DetectConflicts(context.Background(), inv, doc)
	got := map[document.ItemKey]Strategy{}
	for _, c := range conflicts {
		got[c.Key] = c.Resolution
	}
	assert.Equal(t, map[document.ItemKey]Strategy{
		key(document.TypeAddress, "web"):          Rename,
		key(document.TypeAddressGroup, "servers"): Skip,
		key(document.TypeTag, "prod"):             Overwrite,
	}, got)
}

func TestUnknownStrategy(t *testing.T) {
	_, err := ParseStrategy("newest-wins")
	assert.ErrorIs(t, err, ErrUnsupportedStrategy)

	s, err := ParseStrategy("rename")
	require.NoError(t, err)
	assert.Equal(t, Rename, s)

	doc := newIncoming(t)
	inv := NewInventory(existing(document.TypeTag, "prod", "t-1", nil))
	r := NewResolver(Strategy("newest-wins"), nil)
	ctx := context.Background()
	res, err := r.Resolve(ctx, inv, doc, r.DetectConflicts(ctx, inv, doc))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Unresolved[key(document.TypeTag, "prod")], ErrUnsupportedStrategy)
}

func TestResolveStopsOnCancel(t *testing.T) {
	doc := newIncoming(t)
	inv := NewInventory(existing(document.TypeTag, "prod", "t-1", nil))
	r := NewResolver(Skip, nil)

	ctx, cancel := context.WithCancel(context.Background())
	conflicts := r.DetectConflicts(ctx, inv, doc)
	cancel()
	_, err := r.Resolve(ctx, inv, doc, conflicts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, doc.Has(key(document.TypeTag, "prod")))
}
