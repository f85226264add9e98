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

package ir

import (
	"fmt"

	"github.com/SnellerInc/udfc/expr"
)

// LoopBoundExceededError is returned when a row
// would execute a loop body more times than the
// loop's iteration bound allows.
type LoopBoundExceededError struct {
	Func  string
	At    expr.Position // position of the loop
	Bound int64
	Row   int
}

func (l *LoopBoundExceededError) Error() string {
	return fmt.Sprintf("%s: row %d: loop at %s exceeded its bound of %d iterations", l.Func, l.Row, l.At, l.Bound)
}

// RuntimeComputationError is returned when a row
// raises an error or, under strict error handling,
// when a partial operation fails.
type RuntimeComputationError struct {
	Func string
	At   expr.Position
	Row  int
	// Msg is the message of a raise statement
	Msg string
	// Err is the underlying computation error
	// for failed partial operations
	Err error
}

func (r *RuntimeComputationError) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: row %d: at %s: %s", r.Func, r.Row, r.At, r.Err)
	}
	return fmt.Sprintf("%s: row %d: at %s: raised: %s", r.Func, r.Row, r.At, r.Msg)
}

func (r *RuntimeComputationError) Unwrap() error { return r.Err }
