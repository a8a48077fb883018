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
	"sync"

	"github.com/confsync/confsync/pkg/document"
)

// Inventory is a snapshot of the items present in a target environment. It
// is safe for concurrent use so listings can be collected in parallel.
type Inventory struct {
	mu    sync.RWMutex
	items map[document.ItemKey]*document.Item
}

// NewInventory returns an inventory holding items.
func NewInventory(items ...*document.Item) *Inventory {
	inv := &Inventory{items: make(map[document.ItemKey]*document.Item)}
	inv.Add(items...)
	return inv
}

// Add records items, replacing any entry with the same key.
func (i *Inventory) Add(items ...*document.Item) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, item := range items {
		i.items[item.Key()] = item
	}
}

// Get returns the item stored under key.
func (i *Inventory) Get(key document.ItemKey) (*document.Item, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	item, ok := i.items[key]
	return item, ok
}

// Has reports whether key is taken.
func (i *Inventory) Has(key document.ItemKey) bool {
	_, ok := i.Get(key)
	return ok
}

// Len returns the number of items.
func (i *Inventory) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.items)
}
