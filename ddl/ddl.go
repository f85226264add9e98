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

// Package ddl reads function definitions
// written as SQL statements:
//
//	CREATE [OR REPLACE] FUNCTION name(p type, ...)
//	RETURNS type AS $$ body $$ LANGUAGE udf;
//
//	DROP FUNCTION name;
package ddl

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/udfc"
	"github.com/SnellerInc/udfc/expr"
)

// Languages are the accepted
// LANGUAGE clauses, lowercased.
var Languages = []string{"udf", "plpgsql"}

// Statement is one statement of a script.
// Exactly one of Def and Drop is set.
type Statement struct {
	// Def is the definition of a CREATE FUNCTION
	Def *udfc.Definition
	// Replace is set for CREATE OR REPLACE
	Replace bool
	// Drop is the name of the function of
	// a DROP FUNCTION; IfExists is set
	// for DROP FUNCTION IF EXISTS
	Drop     string
	IfExists bool
}

// Parse parses a sequence of
// CREATE FUNCTION statements.
func Parse(sql string) ([]udfc.Definition, error) {
	stmts, err := ParseScript(sql)
	if err != nil {
		return nil, err
	}
	defs := make([]udfc.Definition, 0, len(stmts))
	for i := range stmts {
		if stmts[i].Def == nil {
			return nil, fmt.Errorf("ddl: statement %d: expected CREATE FUNCTION", i+1)
		}
		defs = append(defs, *stmts[i].Def)
	}
	return defs, nil
}

// ParseScript parses a sequence of
// CREATE FUNCTION and DROP FUNCTION statements.
func ParseScript(sql string) ([]Statement, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("ddl: %w", err)
	}
	out := make([]Statement, 0, len(result.Stmts))
	for i, raw := range result.Stmts {
		var st Statement
		switch {
		case raw.Stmt.GetCreateFunctionStmt() != nil:
			st, err = create(raw.Stmt.GetCreateFunctionStmt())
		case raw.Stmt.GetDropStmt() != nil:
			st, err = drop(raw.Stmt.GetDropStmt())
		default:
			err = fmt.Errorf("unsupported statement")
		}
		if err != nil {
			return nil, fmt.Errorf("ddl: statement %d: %w", i+1, err)
		}
		out = append(out, st)
	}
	return out, nil
}

func create(stmt *pg_query.CreateFunctionStmt) (Statement, error) {
	if stmt.IsProcedure {
		return Statement{}, fmt.Errorf("procedures are not supported")
	}
	name, err := qualified(stmt.Funcname)
	if err != nil {
		return Statement{}, err
	}
	def := &udfc.Definition{Name: name}
	for _, n := range stmt.Parameters {
		fp := n.GetFunctionParameter()
		if fp == nil {
			return Statement{}, fmt.Errorf("%s: malformed parameter", name)
		}
		switch fp.Mode {
		case pg_query.FunctionParameterMode_FUNC_PARAM_IN, pg_query.FunctionParameterMode_FUNC_PARAM_DEFAULT:
		default:
			return Statement{}, fmt.Errorf("%s: parameter %s: only IN parameters are supported", name, fp.Name)
		}
		if fp.Defexpr != nil {
			return Statement{}, fmt.Errorf("%s: parameter %s: default values are not supported", name, fp.Name)
		}
		if fp.Name == "" {
			return Statement{}, fmt.Errorf("%s: parameter %d has no name", name, len(def.Params)+1)
		}
		t, err := typeOf(fp.ArgType)
		if err != nil {
			return Statement{}, fmt.Errorf("%s: parameter %s: %w", name, fp.Name, err)
		}
		def.Params = append(def.Params, expr.Param{Name: fp.Name, Type: t})
	}
	if stmt.ReturnType == nil {
		return Statement{}, fmt.Errorf("%s: missing RETURNS clause", name)
	}
	def.Returns, err = typeOf(stmt.ReturnType)
	if err != nil {
		return Statement{}, fmt.Errorf("%s: return type: %w", name, err)
	}
	hasBody, hasLang := false, false
	for _, n := range stmt.Options {
		opt := n.GetDefElem()
		if opt == nil {
			continue
		}
		switch opt.Defname {
		case "as":
			def.Body, err = bodyOf(opt.Arg)
			if err != nil {
				return Statement{}, fmt.Errorf("%s: %w", name, err)
			}
			hasBody = true
		case "language":
			lang := strings.ToLower(stringOf(opt.Arg))
			if !slices.Contains(Languages, lang) {
				return Statement{}, fmt.Errorf("%s: unsupported language %q", name, lang)
			}
			hasLang = true
		case "volatility", "strict", "parallel", "leakproof":
			// accepted and ignored
		default:
			return Statement{}, fmt.Errorf("%s: unsupported option %s", name, strings.ToUpper(opt.Defname))
		}
	}
	if !hasBody {
		return Statement{}, fmt.Errorf("%s: missing AS clause", name)
	}
	if !hasLang {
		return Statement{}, fmt.Errorf("%s: missing LANGUAGE clause", name)
	}
	return Statement{Def: def, Replace: stmt.Replace}, nil
}

func drop(stmt *pg_query.DropStmt) (Statement, error) {
	if stmt.RemoveType != pg_query.ObjectType_OBJECT_FUNCTION {
		return Statement{}, fmt.Errorf("only DROP FUNCTION is supported")
	}
	if len(stmt.Objects) != 1 {
		return Statement{}, fmt.Errorf("DROP FUNCTION of %d functions", len(stmt.Objects))
	}
	owa := stmt.Objects[0].GetObjectWithArgs()
	if owa == nil {
		return Statement{}, fmt.Errorf("malformed DROP FUNCTION")
	}
	name, err := qualified(owa.Objname)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Drop: name, IfExists: stmt.MissingOk}, nil
}

// qualified returns the function name of
// a possibly schema-qualified name
func qualified(names []*pg_query.Node) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("missing function name")
	}
	if len(names) > 1 {
		return "", fmt.Errorf("schema-qualified name %s is not supported", strings.Join(strs(names), "."))
	}
	return stringOf(names[0]), nil
}

func strs(nodes []*pg_query.Node) []string {
	out := make([]string, len(nodes))
	for i := range nodes {
		out[i] = stringOf(nodes[i])
	}
	return out
}

func stringOf(n *pg_query.Node) string {
	if s := n.GetString_(); s != nil {
		return s.Sval
	}
	return ""
}

func bodyOf(n *pg_query.Node) (string, error) {
	if l := n.GetList(); l != nil {
		if len(l.Items) != 1 {
			return "", fmt.Errorf("AS clause with %d items", len(l.Items))
		}
		n = l.Items[0]
	}
	s := n.GetString_()
	if s == nil {
		return "", fmt.Errorf("malformed AS clause")
	}
	return strings.TrimSpace(s.Sval), nil
}

// pgTypes maps the internal names
// of the supported SQL types
var pgTypes = map[string]expr.Type{
	"int2":    expr.TypeInt,
	"int4":    expr.TypeInt,
	"int8":    expr.TypeInt,
	"float4":  expr.TypeFloat,
	"float8":  expr.TypeFloat,
	"numeric": expr.TypeFloat,
	"text":    expr.TypeString,
	"varchar": expr.TypeString,
	"bpchar":  expr.TypeString,
	"bool":    expr.TypeBool,
}

func typeOf(tn *pg_query.TypeName) (expr.Type, error) {
	if tn == nil {
		return expr.TypeInvalid, fmt.Errorf("missing type")
	}
	names := strs(tn.Names)
	if len(names) == 0 {
		return expr.TypeInvalid, fmt.Errorf("missing type")
	}
	if tn.Setof || len(tn.ArrayBounds) > 0 || tn.PctType {
		return expr.TypeInvalid, fmt.Errorf("type %s is not a scalar type", strings.Join(names, "."))
	}
	last := strings.ToLower(names[len(names)-1])
	if t, ok := pgTypes[last]; ok {
		return t, nil
	}
	if len(names) == 1 {
		if t, ok := expr.ParseType(last); ok {
			return t, nil
		}
	}
	return expr.TypeInvalid, fmt.Errorf("unsupported type %s", strings.Join(names, "."))
}

// Apply executes the statement against r.
func (s *Statement) Apply(r *udfc.Registry) error {
	if s.Def == nil {
		err := r.Unregister(s.Drop)
		if s.IfExists && errors.Is(err, udfc.ErrUnknownFunction) {
			return nil
		}
		return err
	}
	if !s.Replace {
		if _, ok := r.Lookup(s.Def.Name); ok {
			return fmt.Errorf("function %s already exists", s.Def.Name)
		}
	}
	_, err := r.Register(*s.Def)
	return err
}
