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
)

var (
	// ErrUnknownType is returned for item types outside the catalogue.
	ErrUnknownType = errors.New("unknown item type")
	// ErrUnknownContainer is returned when an item or container names a
	// container the document does not hold.
	ErrUnknownContainer = errors.New("unknown container")
	// ErrDuplicateContainer is returned when a container name is reused.
	ErrDuplicateContainer = errors.New("duplicate container")
	// ErrDuplicateItem is returned when (type, container, name) is reused.
	ErrDuplicateItem = errors.New("duplicate item")
	// ErrItemNotFound is returned when a key does not address an item.
	ErrItemNotFound = errors.New("item not found")
)

// SchemaMismatchError reports a reference field whose value has the wrong
// shape.
type SchemaMismatchError struct {
	Key    ItemKey
	Field  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Key == (ItemKey{}) {
		return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("item %s: field %q: %s", e.Key, e.Field, e.Reason)
}

// IsSchemaMismatch reports whether err is or wraps a *SchemaMismatchError.
func IsSchemaMismatch(err error) bool {
	var sm *SchemaMismatchError
	return errors.As(err, &sm)
}
