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
	"slices"
	"strings"
	"time"
)

// ItemType identifies the kind of a configuration item. The set of valid
// types is closed; see Kinds.
type ItemType string

const (
	TypeTag                  ItemType = "tag"
	TypeAddress              ItemType = "address"
	TypeAddressGroup         ItemType = "address-group"
	TypeService              ItemType = "service"
	TypeServiceGroup         ItemType = "service-group"
	TypeURLCategory          ItemType = "url-category"
	TypeAntiSpywareProfile   ItemType = "anti-spyware-profile"
	TypeVulnerabilityProfile ItemType = "vulnerability-profile"
	TypeURLFilteringProfile  ItemType = "url-filtering-profile"
	TypeProfileGroup         ItemType = "profile-group"
	TypeSecurityRule         ItemType = "security-rule"
)

// ContainerKind distinguishes folders from snippets.
type ContainerKind string

const (
	ContainerFolder  ContainerKind = "folder"
	ContainerSnippet ContainerKind = "snippet"
)

// ItemKey addresses a single item within a document.
type ItemKey struct {
	Type      ItemType `json:"type"`
	Container string   `json:"container"`
	Name      string   `json:"name"`
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Type, k.Container, k.Name)
}

// Compare orders keys by type, then container, then name.
func (k ItemKey) Compare(o ItemKey) int {
	if c := strings.Compare(string(k.Type), string(o.Type)); c != 0 {
		return c
	}
	if c := strings.Compare(k.Container, o.Container); c != 0 {
		return c
	}
	return strings.Compare(k.Name, o.Name)
}

// Less reports whether k sorts before o.
func (k ItemKey) Less(o ItemKey) bool {
	return k.Compare(o) < 0
}

// SortKeys sorts keys in place using ItemKey.Compare.
func SortKeys(keys []ItemKey) {
	slices.SortFunc(keys, ItemKey.Compare)
}

// Reference is a named pointer from one item to another. Type is the primary
// target type of the field the reference was read from.
type Reference struct {
	Type  ItemType `json:"type"`
	Name  string   `json:"name"`
	Field string   `json:"field"`
}

// Item is a single addressable configuration unit.
type Item struct {
	Type      ItemType `json:"type"`
	Name      string   `json:"name"`
	Container string   `json:"container"`
	// ID is the identity assigned by the remote service, if known.
	ID         string      `json:"id,omitempty"`
	References []Reference `json:"references,omitempty"`
	IsDefault  bool        `json:"isDefault,omitempty"`
	// Payload is preserved verbatim for round-tripping.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Key returns the (type, container, name) key of the item.
func (i *Item) Key() ItemKey {
	return ItemKey{Type: i.Type, Container: i.Container, Name: i.Name}
}

// DeepCopy returns a copy of the item that shares no mutable state with i.
func (i *Item) DeepCopy() *Item {
	if i == nil {
		return nil
	}
	out := *i
	if i.References != nil {
		out.References = append([]Reference(nil), i.References...)
	}
	if i.Payload != nil {
		out.Payload = copyValue(i.Payload).(map[string]interface{})
	}
	return &out
}

// Container is a named grouping of items and child containers.
type Container struct {
	Name   string        `json:"name"`
	Kind   ContainerKind `json:"kind"`
	Parent string        `json:"parent,omitempty"`
}

// Metadata describes where a document came from.
type Metadata struct {
	Source        string    `json:"source,omitempty"`
	CapturedAt    time.Time `json:"capturedAt,omitempty"`
	FormatVersion string    `json:"formatVersion,omitempty"`
}

// FormatVersion is the document format written by this package.
const FormatVersion = "v1"

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = copyValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = copyValue(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
