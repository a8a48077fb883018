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

package remote

import (
	"errors"
	"fmt"
)

// Reason classifies a remote failure.
type Reason string

const (
	ReasonNotFound         Reason = "not-found"
	ReasonConflict         Reason = "conflict"
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonTransient        Reason = "transient-network"
	ReasonUnknown          Reason = "unknown"
)

// StatusError is the error returned by Client implementations.
type StatusError struct {
	Reason Reason
	// Op names the client call that failed, e.g. "list-items".
	Op      string
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Reason, msg)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError returns a StatusError with a formatted message.
func NewStatusError(reason Reason, op string, format string, args ...interface{}) *StatusError {
	return &StatusError{Reason: reason, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound returns a not-found error for op.
func NewNotFound(op, what string) *StatusError {
	return NewStatusError(ReasonNotFound, op, "%s not found", what)
}

// NewConflict returns a conflict error for op.
func NewConflict(op, what string) *StatusError {
	return NewStatusError(ReasonConflict, op, "%s already exists", what)
}

// NewPermissionDenied returns a permission error for op.
func NewPermissionDenied(op, what string) *StatusError {
	return NewStatusError(ReasonPermissionDenied, op, "access to %s denied", what)
}

// NewTransient wraps err as a transient failure of op.
func NewTransient(op string, err error) *StatusError {
	return &StatusError{Reason: ReasonTransient, Op: op, Err: err}
}

// ReasonForError returns the reason carried by err, or ReasonUnknown.
func ReasonForError(err error) Reason {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Reason
	}
	return ReasonUnknown
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return ReasonForError(err) == ReasonNotFound
}

// IsConflict reports whether err is a conflict failure.
func IsConflict(err error) bool {
	return ReasonForError(err) == ReasonConflict
}

// IsPermissionDenied reports whether err is a permission failure.
func IsPermissionDenied(err error) bool {
	return ReasonForError(err) == ReasonPermissionDenied
}

// IsTransient reports whether err is a transient failure worth retrying.
func IsTransient(err error) bool {
	return ReasonForError(err) == ReasonTransient
}
