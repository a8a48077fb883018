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

package document

import (
	"fmt"
	"strings"
)

// ReferenceField declares one payload field that points at other items.
// Path addresses nested maps; Targets lists the acceptable target types in
// lookup order.
type ReferenceField struct {
	Path    []string
	Targets []ItemType
}

// Name returns the dotted field path.
func (f ReferenceField) Name() string {
	return strings.Join(f.Path, ".")
}

// Kind describes an item type and the fields through which it references
// other items.
type Kind struct {
	Type   ItemType
	Fields []ReferenceField
}

// Wildcard values never name another item.
var wildcards = map[string]bool{
	"any":                 true,
	"application-default": true,
}

func field(targets []ItemType, path ...string) ReferenceField {
	return ReferenceField{Path: path, Targets: targets}
}

var (
	tagTargets     = []ItemType{TypeTag}
	addressTargets = []ItemType{TypeAddress, TypeAddressGroup}
	serviceTargets = []ItemType{TypeService, TypeServiceGroup}
)

// kinds is in catalogue order: leaf object kinds before the kinds that can
// reference them.
var kinds = []Kind{
	{Type: TypeTag},
	{Type: TypeAddress, Fields: []ReferenceField{field(tagTargets, "tag")}},
	{Type: TypeAddressGroup, Fields: []ReferenceField{
		field(addressTargets, "static"),
		field(tagTargets, "tag"),
	}},
	{Type: TypeService, Fields: []ReferenceField{field(tagTargets, "tag")}},
	{Type: TypeServiceGroup, Fields: []ReferenceField{
		field(serviceTargets, "members"),
		field(tagTargets, "tag"),
	}},
	{Type: TypeURLCategory},
	{Type: TypeAntiSpywareProfile},
	{Type: TypeVulnerabilityProfile},
	{Type: TypeURLFilteringProfile, Fields: []ReferenceField{
		field([]ItemType{TypeURLCategory}, "allow"),
		field([]ItemType{TypeURLCategory}, "alert"),
		field([]ItemType{TypeURLCategory}, "block"),
	}},
	{Type: TypeProfileGroup, Fields: []ReferenceField{
		field([]ItemType{TypeAntiSpywareProfile}, "spyware"),
		field([]ItemType{TypeVulnerabilityProfile}, "vulnerability"),
		field([]ItemType{TypeURLFilteringProfile}, "url_filtering"),
	}},
	{Type: TypeSecurityRule, Fields: []ReferenceField{
		field(addressTargets, "source"),
		field(addressTargets, "destination"),
		field(serviceTargets, "service"),
		field([]ItemType{TypeProfileGroup}, "profile_setting", "group"),
		field(tagTargets, "tag"),
	}},
}

var kindIndex = func() map[ItemType]int {
	idx := make(map[ItemType]int, len(kinds))
	for i, k := range kinds {
		idx[k.Type] = i
	}
	return idx
}()

// KindFor returns the kind registered for t.
func KindFor(t ItemType) (Kind, bool) {
	i, ok := kindIndex[t]
	if !ok {
		return Kind{}, false
	}
	return kinds[i], true
}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	_, ok := kindIndex[t]
	return ok
}

// AllTypes returns every item type in catalogue order.
func AllTypes() []ItemType {
	out := make([]ItemType, len(kinds))
	for i, k := range kinds {
		out[i] = k.Type
	}
	return out
}

// ParseItemType converts a string to a known ItemType.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Field returns the reference field with the given dotted name.
func (k Kind) Field(name string) (ReferenceField, bool) {
	for _, f := range k.Fields {
		if f.Name() == name {
			return f, true
		}
	}
	return ReferenceField{}, false
}

// References extracts the references declared by k from payload, in field
// order, without duplicates. A field holding anything other than a string or
// a list of strings is reported as a *SchemaMismatchError without a key.
func (k Kind) References(payload map[string]interface{}) ([]Reference, error) {
	var refs []Reference
	seen := map[Reference]bool{}
	for _, f := range k.Fields {
		names, err := f.values(payload)
		if err != nil {
			return nil, &SchemaMismatchError{Field: f.Name(), Reason: err.Error()}
		}
		for _, name := range names {
			ref := Reference{Type: f.Targets[0], Name: name}
			if seen[ref] {
				continue
			}
			seen[ref] = true
			ref.Field = f.Name()
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// RewriteReference replaces oldName with newName in every field of payload
// that may point at target. It reports whether anything changed.
func (k Kind) RewriteReference(payload map[string]interface{}, target ItemType, oldName, newName string) bool {
	changed := false
	for _, f := range k.Fields {
		if !f.accepts(target) {
			continue
		}
		parent, last, ok := f.parent(payload)
		if !ok {
			continue
		}
		switch v := parent[last].(type) {
		case string:
			if v == oldName {
				parent[last] = newName
				changed = true
			}
		case []interface{}:
			for i := range v {
				if s, ok := v[i].(string); ok && s == oldName {
					v[i] = newName
					changed = true
				}
			}
		case []string:
			for i := range v {
				if v[i] == oldName {
					v[i] = newName
					changed = true
				}
			}
		}
	}
	return changed
}

func (f ReferenceField) accepts(t ItemType) bool {
	for _, target := range f.Targets {
		if target == t {
			return true
		}
	}
	return false
}

// parent walks to the map holding the last path element.
func (f ReferenceField) parent(payload map[string]interface{}) (map[string]interface{}, string, bool) {
	cur := payload
	for _, p := range f.Path[:len(f.Path)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			return nil, "", false
		}
		cur = next
	}
	return cur, f.Path[len(f.Path)-1], cur != nil
}

func (f ReferenceField) values(payload map[string]interface{}) ([]string, error) {
	cur := payload
	for _, p := range f.Path[:len(f.Path)-1] {
		raw, ok := cur[p]
		if !ok || raw == nil {
			return nil, nil
		}
		next, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expected an object at %q, got %T", p, raw)
		}
		cur = next
	}
	raw, ok := cur[f.Path[len(f.Path)-1]]
	if !ok || raw == nil {
		return nil, nil
	}

	var names []string
	switch v := raw.(type) {
	case string:
		names = []string{v}
	case []string:
		names = v
	case []interface{}:
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected a string, got %T", i, e)
			}
			names = append(names, s)
		}
	default:
		return nil, fmt.Errorf("expected a string or a list of strings, got %T", raw)
	}

	out := names[:0:0]
	for _, n := range names {
		if n == "" || wildcards[n] {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
