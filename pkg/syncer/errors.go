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

	"github.com/confsync/confsync/pkg/conflict"
	"github.com/confsync/confsync/pkg/dependencies"
	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote"
)

// ErrorKind classifies the errors recorded in a Report.
type ErrorKind string

const (
	KindCyclicDependency       ErrorKind = "CyclicDependency"
	KindMissingDependency      ErrorKind = "MissingDependency"
	KindSchemaMismatch         ErrorKind = "SchemaMismatch"
	KindNameConflict           ErrorKind = "NameConflict"
	KindRemoteOperationFailure ErrorKind = "RemoteOperationFailure"
	KindUnsupportedStrategy    ErrorKind = "UnsupportedStrategy"
	KindCancelled              ErrorKind = "Cancelled"
)

// SyncError is an error tied to an item, or to a container and type slice
// when no single item is involved.
type SyncError struct {
	Kind      ErrorKind
	Key       document.ItemKey
	Container string
	Type      document.ItemType
	Err       error
}

func (e *SyncError) Error() string {
	switch {
	case e.Key != (document.ItemKey{}):
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Key, e.Err)
	case e.Container != "" || e.Type != "":
		return fmt.Sprintf("%s: %s in %s: %v", e.Kind, e.Type, e.Container, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Reason returns the remote failure reason, or remote.ReasonUnknown when
// the error did not come from the remote client.
func (e *SyncError) Reason() remote.Reason {
	return remote.ReasonForError(e.Err)
}

// kindForError maps an error to the taxonomy.
func kindForError(err error) ErrorKind {
	var se *SyncError
	var sm *document.SchemaMismatchError
	var cyc *dependencies.CyclicDependencyError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &sm):
		return KindSchemaMismatch
	case errors.As(err, &cyc):
		return KindCyclicDependency
	case errors.Is(err, conflict.ErrUnsupportedStrategy):
		return KindUnsupportedStrategy
	case errors.Is(err, document.ErrDuplicateItem), remote.IsConflict(err):
		return KindNameConflict
	default:
		return KindRemoteOperationFailure
	}
}

// IsKind reports whether err is a *SyncError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Kind == kind
}
