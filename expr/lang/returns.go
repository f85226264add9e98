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

package lang

import (
	"github.com/SnellerInc/udfc/expr"
)

// jumps returns whether s unconditionally
// transfers control out of its statement list
func jumps(s expr.Stmt) bool {
	switch s := s.(type) {
	case *expr.Return, *expr.Raise, *expr.Break, *expr.Continue:
		return true
	case *expr.If:
		return len(s.Else) > 0 && jumpsList(s.Then) && jumpsList(s.Else)
	case *expr.Loop:
		return !breaks(s.Body)
	}
	return false
}

func jumpsList(body []expr.Stmt) bool {
	return len(body) > 0 && jumps(body[len(body)-1])
}

// checkReachable rejects statements
// that follow an unconditional jump
func checkReachable(body []expr.Stmt) error {
	for i, s := range body {
		if i > 0 && jumps(body[i-1]) {
			return &expr.UnsupportedConstructError{
				At:        s.Pos(),
				Construct: "unreachable statement",
				Msg:       "statement follows a return, raise, break, or continue",
			}
		}
		var err error
		switch s := s.(type) {
		case *expr.If:
			if err = checkReachable(s.Then); err == nil {
				err = checkReachable(s.Else)
			}
		case *expr.While:
			err = checkReachable(s.Body)
		case *expr.ForRange:
			err = checkReachable(s.Body)
		case *expr.Loop:
			err = checkReachable(s.Body)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// breaks returns whether a loop body contains
// a break that targets the loop itself
func breaks(body []expr.Stmt) bool {
	found := false
	expr.Inspect(body, func(s expr.Stmt) bool {
		switch s.(type) {
		case *expr.Break:
			found = true
		case *expr.While, *expr.ForRange, *expr.Loop:
			// breaks in nested loops
			// target the nested loop
			return false
		}
		return !found
	})
	return found
}

// terminates returns whether every path
// through body ends in a return or raise
// (or in a loop that is never left with break)
func terminates(body []expr.Stmt) bool {
	if len(body) == 0 {
		return false
	}
	switch s := body[len(body)-1].(type) {
	case *expr.Return, *expr.Raise:
		return true
	case *expr.If:
		return len(s.Else) > 0 && terminates(s.Then) && terminates(s.Else)
	case *expr.Loop:
		return !breaks(s.Body)
	case *expr.While:
		b, ok := s.Cond.(expr.Bool)
		return ok && bool(b) && !breaks(s.Body)
	}
	return false
}
