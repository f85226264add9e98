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

// Package expr implements the AST representation
// of user-defined scalar function bodies, the scalar
// type system shared by every compilation stage,
// and the catalog of built-in scalar functions.
//
// Each expression type satisfies the Node interface
// and each statement type satisfies the Stmt interface.
//
// The semantics of every operator and built-in are
// defined here on Datum values; both the row-at-a-time
// interpreter and the vectorized kernels are required
// to agree with these definitions.
package expr
