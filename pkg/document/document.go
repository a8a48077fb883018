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
	"errors"
	"fmt"
	"slices"
)

// Document is the root aggregate: metadata, a container tree and the flat set
// of items held by those containers. A Document is not safe for concurrent
// mutation.
type Document struct {
	Metadata Metadata

	containers map[string]*Container
	// roots and children keep insertion order so tree walks are stable.
	roots    []string
	children map[string][]string
	items    map[ItemKey]*Item
}

// New returns an empty document.
func New(meta Metadata) *Document {
	if meta.FormatVersion == "" {
		meta.FormatVersion = FormatVersion
	}
	return &Document{
		Metadata:   meta,
		containers: make(map[string]*Container),
		children:   make(map[string][]string),
		items:      make(map[ItemKey]*Item),
	}
}

// AddContainer inserts c into the tree. The parent, if any, must already be
// present and container names must be unique across the document.
func (d *Document) AddContainer(c *Container) error {
	if c == nil || c.Name == "" {
		return errors.New("container name cannot be empty")
	}
	if _, exists := d.containers[c.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateContainer, c.Name)
	}
	if c.Parent != "" {
		if _, ok := d.containers[c.Parent]; !ok {
			return fmt.Errorf("%w: parent %q of %q", ErrUnknownContainer, c.Parent, c.Name)
		}
	}
	cp := *c
	if cp.Kind == "" {
		cp.Kind = ContainerFolder
	}
	d.containers[cp.Name] = &cp
	if cp.Parent == "" {
		d.roots = append(d.roots, cp.Name)
	} else {
		d.children[cp.Parent] = append(d.children[cp.Parent], cp.Name)
	}
	return nil
}

// Container returns the named container.
func (d *Document) Container(name string) (*Container, bool) {
	c, ok := d.containers[name]
	return c, ok
}

// Containers returns every container in depth-first tree order.
func (d *Document) Containers() []*Container {
	out := make([]*Container, 0, len(d.containers))
	var walk func(names []string)
	walk = func(names []string) {
		for _, n := range names {
			out = append(out, d.containers[n])
			walk(d.children[n])
		}
	}
	walk(d.roots)
	return out
}

// Children returns the names of the direct children of a container, or of the
// roots when name is empty.
func (d *Document) Children(name string) []string {
	if name == "" {
		return append([]string(nil), d.roots...)
	}
	return append([]string(nil), d.children[name]...)
}

// Lineage returns name followed by its ancestors up to the root.
func (d *Document) Lineage(name string) []string {
	var out []string
	for cur := name; cur != ""; {
		c, ok := d.containers[cur]
		if !ok {
			break
		}
		out = append(out, cur)
		cur = c.Parent
	}
	return out
}

// AddItem inserts item, deriving its references from the payload according
// to its kind. The item is stored as given, not copied.
func (d *Document) AddItem(item *Item) error {
	if item == nil || item.Name == "" {
		return errors.New("item name cannot be empty")
	}
	kind, ok := KindFor(item.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, item.Type)
	}
	if _, ok := d.containers[item.Container]; !ok {
		return fmt.Errorf("%w: %q for item %s", ErrUnknownContainer, item.Container, item.Key())
	}
	key := item.Key()
	if _, exists := d.items[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, key)
	}
	refs, err := kind.References(item.Payload)
	if err != nil {
		var sm *SchemaMismatchError
		if errors.As(err, &sm) {
			sm.Key = key
		}
		return err
	}
	item.References = refs
	d.items[key] = item
	return nil
}

// Item returns the item addressed by key.
func (d *Document) Item(key ItemKey) (*Item, bool) {
	i, ok := d.items[key]
	return i, ok
}

// Has reports whether key addresses an item in the document.
func (d *Document) Has(key ItemKey) bool {
	_, ok := d.items[key]
	return ok
}

// Len returns the number of items.
func (d *Document) Len() int {
	return len(d.items)
}

// Keys returns all item keys in key order.
func (d *Document) Keys() []ItemKey {
	keys := make([]ItemKey, 0, len(d.items))
	for k := range d.items {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// Items returns all items in key order.
func (d *Document) Items() []*Item {
	keys := d.Keys()
	out := make([]*Item, len(keys))
	for i, k := range keys {
		out[i] = d.items[k]
	}
	return out
}

// ItemsIn returns the items held directly by container, in key order.
func (d *Document) ItemsIn(container string) []*Item {
	var out []*Item
	for _, item := range d.Items() {
		if item.Container == container {
			out = append(out, item)
		}
	}
	return out
}

// RemoveItem deletes key and returns the removed item.
func (d *Document) RemoveItem(key ItemKey) (*Item, bool) {
	item, ok := d.items[key]
	if ok {
		delete(d.items, key)
	}
	return item, ok
}

// RenameItem moves the item at key to newName within the same type and
// container. References held by other items are left untouched.
func (d *Document) RenameItem(key ItemKey, newName string) error {
	item, ok := d.items[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	newKey := key
	newKey.Name = newName
	if _, exists := d.items[newKey]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, newKey)
	}
	delete(d.items, key)
	item.Name = newName
	d.items[newKey] = item
	return nil
}

// RewriteReference points every reference from referrer to (target, oldName)
// at newName instead, updating both the payload and the reference list.
func (d *Document) RewriteReference(referrer ItemKey, target ItemType, oldName, newName string) (bool, error) {
	item, ok := d.items[referrer]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, referrer)
	}
	kind, _ := KindFor(item.Type)
	if !kind.RewriteReference(item.Payload, target, oldName, newName) {
		return false, nil
	}
	refs, err := kind.References(item.Payload)
	if err != nil {
		return false, err
	}
	item.References = refs
	return true, nil
}

// CountByType returns the number of items per type.
func (d *Document) CountByType() map[ItemType]int {
	out := make(map[ItemType]int)
	for k := range d.items {
		out[k.Type]++
	}
	return out
}

// CopyStructure returns a document with the same metadata and container tree
// and no items.
func (d *Document) CopyStructure() *Document {
	out := New(d.Metadata)
	for name, c := range d.containers {
		cp := *c
		out.containers[name] = &cp
	}
	out.roots = slices.Clone(d.roots)
	for name, children := range d.children {
		out.children[name] = slices.Clone(children)
	}
	return out
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := d.CopyStructure()
	for k, item := range d.items {
		out.items[k] = item.DeepCopy()
	}
	return out
}

// Select returns a deep copy of d holding only the items keep accepts. The
// container tree is copied whole, including containers left empty.
func (d *Document) Select(keep func(*Item) bool) *Document {
	out := d.CopyStructure()
	for k, item := range d.items {
		if keep(item) {
			out.items[k] = item.DeepCopy()
		}
	}
	return out
}
