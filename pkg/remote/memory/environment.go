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

// Package memory provides an in-memory remote.Client backed by a document,
// with hooks to inject failures. Environments can be loaded from and saved to
// snapshot files.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote"
	"github.com/confsync/confsync/pkg/snapshot"
)

// Write records a successful write.
type Write struct {
	Key       document.ItemKey
	Operation remote.Operation
}

type listKey struct {
	container string
	itemType  document.ItemType
}

// Environment is a remote.Client holding its configuration in memory. It is
// safe for concurrent use.
type Environment struct {
	mu sync.Mutex

	doc *document.Document
	ids map[string]document.ItemKey

	listContainersErr error
	listItemsErrs     map[listKey]error
	writeErrs         map[document.ItemKey]error
	writes            []Write

	newID func() string
}

var _ remote.Client = &Environment{}

// NewEnvironment returns an empty environment named name.
func NewEnvironment(name string) *Environment {
	return FromDocument(document.New(document.Metadata{Source: name}))
}

// FromDocument returns an environment holding a copy of doc. Items without an
// ID are given one.
func FromDocument(doc *document.Document) *Environment {
	e := &Environment{
		doc:           doc.Clone(),
		ids:           make(map[string]document.ItemKey),
		listItemsErrs: make(map[listKey]error),
		writeErrs:     make(map[document.ItemKey]error),
		newID:         func() string { return uuid.NewString() },
	}
	for _, item := range e.doc.Items() {
		if item.ID == "" {
			item.ID = e.newID()
		}
		e.ids[item.ID] = item.Key()
	}
	return e
}

// Load reads an environment from a snapshot file.
func Load(path string) (*Environment, error) {
	doc, err := snapshot.Load(path)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc), nil
}

// Save writes the environment to a snapshot file.
func (e *Environment) Save(path string) error {
	return snapshot.Save(path, e.Document())
}

// Document returns a copy of the current contents.
func (e *Environment) Document() *document.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Clone()
}

// AddContainer adds a container directly, bypassing the client interface.
func (e *Environment) AddContainer(c *document.Container) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.AddContainer(c)
}

// AddItem adds a copy of item directly, assigning an ID when it has none.
func (e *Environment) AddItem(item *document.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.insertUnsafe(item.DeepCopy())
	return err
}

// FailListContainers makes ListContainers return err.
func (e *Environment) FailListContainers(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listContainersErr = err
}

// FailListItems makes ListItems return err for the given container and type.
func (e *Environment) FailListItems(container string, t document.ItemType, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listItemsErrs[listKey{container, t}] = err
}

// FailWrite makes writes of key return err.
func (e *Environment) FailWrite(key document.ItemKey, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeErrs[key] = err
}

// Writes returns the successful writes in the order they happened.
func (e *Environment) Writes() []Write {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Write(nil), e.writes...)
}

func (e *Environment) ListContainers(ctx context.Context, scope remote.Scope) ([]*document.Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listContainersErr != nil {
		return nil, e.listContainersErr
	}

	wanted := map[string]bool{}
	for _, name := range scope.Containers {
		lineage := e.doc.Lineage(name)
		if len(lineage) == 0 {
			return nil, remote.NewNotFound("list-containers", fmt.Sprintf("container %q", name))
		}
		for _, c := range lineage {
			wanted[c] = true
		}
	}

	var out []*document.Container
	for _, c := range e.doc.Containers() {
		if scope.All() || wanted[c.Name] {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (e *Environment) ListItems(ctx context.Context, container string, t document.ItemType) ([]*document.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.listItemsErrs[listKey{container, t}]; err != nil {
		return nil, err
	}
	if _, ok := e.doc.Container(container); !ok {
		return nil, remote.NewNotFound("list-items", fmt.Sprintf("container %q", container))
	}

	var out []*document.Item
	for _, item := range e.doc.ItemsIn(container) {
		if item.Type == t {
			out = append(out, item.DeepCopy())
		}
	}
	return out, nil
}

func (e *Environment) CreateItem(ctx context.Context, item *document.Item) (*remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	key := item.Key()
	if err := e.writeErrs[key]; err != nil {
		return nil, err
	}
	if _, ok := e.doc.Container(item.Container); !ok {
		return nil, remote.NewNotFound("create-item", fmt.Sprintf("container %q", item.Container))
	}
	if e.doc.Has(key) {
		return nil, remote.NewConflict("create-item", key.String())
	}

	cp := item.DeepCopy()
	cp.ID = ""
	id, err := e.insertUnsafe(cp)
	if err != nil {
		return nil, remote.NewStatusError(remote.ReasonUnknown, "create-item", "%v", err)
	}
	e.writes = append(e.writes, Write{Key: key, Operation: remote.OperationCreate})
	return &remote.Result{Key: key, ID: id, Operation: remote.OperationCreate}, nil
}

func (e *Environment) UpdateItem(ctx context.Context, item *document.Item) (*remote.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	key := item.Key()
	if err := e.writeErrs[key]; err != nil {
		return nil, err
	}
	current, ok := e.ids[item.ID]
	if item.ID == "" || !ok {
		return nil, remote.NewNotFound("update-item", fmt.Sprintf("item with id %q", item.ID))
	}
	if current != key && e.doc.Has(key) {
		return nil, remote.NewConflict("update-item", key.String())
	}

	old, _ := e.doc.RemoveItem(current)
	if _, err := e.insertUnsafe(item.DeepCopy()); err != nil {
		_ = e.doc.AddItem(old)
		return nil, remote.NewStatusError(remote.ReasonUnknown, "update-item", "%v", err)
	}
	e.writes = append(e.writes, Write{Key: key, Operation: remote.OperationUpdate})
	return &remote.Result{Key: key, ID: item.ID, Operation: remote.OperationUpdate}, nil
}

// insertUnsafe stores item, assigning an ID when it has none. Callers must
// hold e.mu.
func (e *Environment) insertUnsafe(item *document.Item) (string, error) {
	if item.ID == "" {
		item.ID = e.newID()
	}
	if err := e.doc.AddItem(item); err != nil {
		return "", err
	}
	e.ids[item.ID] = item.Key()
	return item.ID, nil
}
