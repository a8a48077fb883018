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

// Package remote defines the boundary to a remote configuration service.
package remote

import (
	"context"
	"slices"

	"github.com/confsync/confsync/pkg/document"
)

// Scope selects the containers to work on. An empty scope means all of them.
type Scope struct {
	Containers []string
}

// AllContainers is the scope that selects every container.
func AllContainers() Scope {
	return Scope{}
}

// All reports whether s selects every container.
func (s Scope) All() bool {
	return len(s.Containers) == 0
}

// Includes reports whether the named container is selected.
func (s Scope) Includes(name string) bool {
	return s.All() || slices.Contains(s.Containers, name)
}

// Operation is the kind of write performed for an item.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
)

// Result describes a successful write.
type Result struct {
	Key       document.ItemKey
	ID        string
	Operation Operation
}

// Client reads from and writes to a remote configuration service. Every
// method fails with a *StatusError when the service reports a problem.
type Client interface {
	// ListContainers returns the containers selected by scope together with
	// their ancestors, parents before children.
	ListContainers(ctx context.Context, scope Scope) ([]*document.Container, error)
	// ListItems returns the items of type t held directly by container.
	ListItems(ctx context.Context, container string, t document.ItemType) ([]*document.Item, error)
	// CreateItem creates item and returns the identity assigned to it.
	CreateItem(ctx context.Context, item *document.Item) (*Result, error)
	// UpdateItem replaces the item whose ID is item.ID.
	UpdateItem(ctx context.Context, item *document.Item) (*Result, error)
}
