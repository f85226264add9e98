// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package udfc

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/udfc/expr"
	"github.com/SnellerInc/udfc/vm"
)

var (
	// ErrClosed is returned by the methods
	// of a Registry after Close.
	ErrClosed = errors.New("udfc: registry closed")
	// ErrUnknownFunction is returned for calls
	// of functions that are not registered.
	ErrUnknownFunction = errors.New("udfc: unknown function")
	// ErrUnsupported is returned by hosts
	// that cannot perform an operation,
	// such as removing a function.
	ErrUnsupported = errors.New("udfc: operation not supported by host")
)

// RegistrationConflictError is returned by Register
// when a function with the same name but a different
// signature is already registered.
type RegistrationConflictError struct {
	Name string
	// Have and Want are the signatures of
	// the registered and the new definition
	Have, Want string
}

func (r *RegistrationConflictError) Error() string {
	return fmt.Sprintf("udfc: cannot register %s: %s is already registered", r.Want, r.Have)
}

// errorClass returns the label under which
// registration failures are counted
func errorClass(err error) string {
	var (
		syntax     *expr.SyntaxError
		construct  *expr.UnsupportedConstructError
		incomplete *expr.IncompleteReturnError
		mismatch   *expr.TypeMismatchError
		undefined  *expr.UndefinedReferenceError
		vectorize  *vm.UnvectorizableConstructError
		conflict   *RegistrationConflictError
	)
	switch {
	case errors.As(err, &syntax):
		return "syntax"
	case errors.As(err, &construct):
		return "unsupported_construct"
	case errors.As(err, &incomplete):
		return "incomplete_return"
	case errors.As(err, &mismatch):
		return "type_mismatch"
	case errors.As(err, &undefined):
		return "undefined_reference"
	case errors.As(err, &vectorize):
		return "unvectorizable"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, ErrClosed):
		return "closed"
	}
	return "other"
}
