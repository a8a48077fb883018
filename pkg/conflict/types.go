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

// Package conflict detects name collisions between a document about to be
// applied and the inventory of the target environment, and resolves them.
package conflict

import (
	"errors"
	"fmt"

	"github.com/confsync/confsync/pkg/document"
)

// Strategy names a way to resolve a conflict.
type Strategy string

const (
	// Skip drops the incoming item and leaves the existing one untouched.
	Skip Strategy = "skip"
	// Overwrite replaces the existing item, keeping its identity.
	Overwrite Strategy = "overwrite"
	// Rename applies the incoming item under a free name.
	Rename Strategy = "rename"
	// Merge is recognised but not implemented for any type.
	Merge Strategy = "merge"
)

// Strategies lists every recognised strategy.
var Strategies = []Strategy{Skip, Overwrite, Rename, Merge}

// ParseStrategy converts s to a recognised Strategy.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedStrategy, s)
}

// ErrUnsupportedStrategy is matched by every *UnsupportedStrategyError.
var ErrUnsupportedStrategy = errors.New("unsupported conflict resolution strategy")

// UnsupportedStrategyError is returned when a strategy cannot resolve a
// conflict for an item type.
type UnsupportedStrategyError struct {
	Strategy Strategy
	Type     document.ItemType
}

func (e *UnsupportedStrategyError) Error() string {
	return fmt.Sprintf("strategy %q is not supported for %s", e.Strategy, e.Type)
}

func (e *UnsupportedStrategyError) Is(target error) bool {
	return target == ErrUnsupportedStrategy
}

// Conflict is an incoming item whose key is already taken in the target.
type Conflict struct {
	Key      document.ItemKey
	Incoming *document.Item
	Existing *document.Item

	// Resolution is the selected strategy.
	Resolution Strategy
	// RenamedTo holds the new name after a rename.
	RenamedTo string
	// Diff is a JSON merge patch from the existing payload to the incoming
	// one.
	Diff []byte
	// Err is set when the conflict could not be resolved.
	Err error
}

// Identical reports whether both payloads are the same.
func (c *Conflict) Identical() bool {
	return string(c.Diff) == "{}"
}

// GroupByType groups conflicts by item type, keeping their order.
func GroupByType(conflicts []*Conflict) map[document.ItemType][]*Conflict {
	out := make(map[document.ItemType][]*Conflict)
	for _, c := range conflicts {
		out[c.Key.Type] = append(out[c.Key.Type], c)
	}
	return out
}

// Report summarises a set of conflicts.
type Report struct {
	ConflictCount int
	ByType        map[document.ItemType]int
	ByResolution  map[Strategy]int
	Unresolved    int
}

// NewReport builds a Report for conflicts.
func NewReport(conflicts []*Conflict) Report {
	r := Report{
		ConflictCount: len(conflicts),
		ByType:        make(map[document.ItemType]int),
		ByResolution:  make(map[Strategy]int),
	}
	for _, c := range conflicts {
		r.ByType[c.Key.Type]++
		r.ByResolution[c.Resolution]++
		if c.Err != nil {
			r.Unresolved++
		}
	}
	return r
}
