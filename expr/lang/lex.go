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
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/SnellerInc/udfc/expr"
)

type tokKind int

const (
	tEOF tokKind = iota
	tIdent
	tInt
	tFloat
	tString

	// punctuation
	tLParen
	tRParen
	tLBrace
	tRBrace
	tComma
	tSemi
	tDotDot

	// operators
	tPlus
	tMinus
	tStar
	tSlash
	tPercent
	tConcat // ||
	tEq     // = or ==
	tNe     // != or <>
	tLt
	tLe
	tGt
	tGe

	// compound assignment
	tPlusEq
	tMinusEq
	tStarEq
	tSlashEq
	tConcatEq
)

var tokNames = [...]string{
	tEOF:      "end of input",
	tIdent:    "identifier",
	tInt:      "integer",
	tFloat:    "float",
	tString:   "string",
	tLParen:   "'('",
	tRParen:   "')'",
	tLBrace:   "'{'",
	tRBrace:   "'}'",
	tComma:    "','",
	tSemi:     "';'",
	tDotDot:   "'..'",
	tPlus:     "'+'",
	tMinus:    "'-'",
	tStar:     "'*'",
	tSlash:    "'/'",
	tPercent:  "'%'",
	tConcat:   "'||'",
	tEq:       "'='",
	tNe:       "'<>'",
	tLt:       "'<'",
	tLe:       "'<='",
	tGt:       "'>'",
	tGe:       "'>='",
	tPlusEq:   "'+='",
	tMinusEq:  "'-='",
	tStarEq:   "'*='",
	tSlashEq:  "'/='",
	tConcatEq: "'||='",
}

func (t tokKind) String() string {
	if int(t) < len(tokNames) {
		return tokNames[t]
	}
	return fmt.Sprintf("<tok=%d>", int(t))
}

type token struct {
	kind tokKind
	// text is the raw text for identifiers
	// and numbers, and the unquoted
	// value for strings
	text string
	pos  expr.Position
}

func (t *token) String() string {
	switch t.kind {
	case tIdent, tInt, tFloat:
		return fmt.Sprintf("%s %q", t.kind, t.text)
	case tString:
		return "string " + expr.Quote(t.text)
	}
	return t.kind.String()
}

// is returns whether the token is
// the given keyword (case-insensitive)
func (t *token) is(kw string) bool {
	return t.kind == tIdent && strings.EqualFold(t.text, kw)
}

// LexerError describes a lexing error
type LexerError struct {
	At  expr.Position
	Msg string
}

func (e *LexerError) Error() string {
	return fmt.Sprintf("at %s: %s", e.At, e.Msg)
}

type scanner struct {
	from []byte
	pos  int
	line int
	// offset of the first byte of the current line
	bol int
}

func newScanner(src []byte) *scanner {
	return &scanner{from: src, line: 1}
}

func (s *scanner) position() expr.Position {
	return expr.Position{Line: s.line, Col: utf8.RuneCount(s.from[s.bol:s.pos]) + 1}
}

func (s *scanner) peekat(i int) byte {
	if s.pos+i < len(s.from) {
		return s.from[s.pos+i]
	}
	return 0
}

func (s *scanner) errorf(at expr.Position, f string, args ...any) error {
	return &LexerError{At: at, Msg: fmt.Sprintf(f, args...)}
}

func isdigit(x byte) bool {
	return x >= '0' && x <= '9'
}

func isalpha(x byte) bool {
	return (x >= 'a' && x <= 'z') || (x >= 'A' && x <= 'Z')
}

func isident(x byte) bool {
	return isalpha(x) || isdigit(x) || x == '_'
}

func isspace(x byte) bool {
	return x == ' ' || x == '\n' || x == '\t' || x == '\r' || x == '\f' || x == '\v'
}

// chomp whitespace and comments from input
func (s *scanner) chompws() {
	for s.pos < len(s.from) {
		c := s.from[s.pos]
		switch {
		case c == '\n':
			s.pos++
			s.line++
			s.bol = s.pos
		case isspace(c):
			s.pos++
		case (c == '-' && s.peekat(1) == '-') || (c == '/' && s.peekat(1) == '/'):
			for s.pos < len(s.from) && s.from[s.pos] != '\n' {
				s.pos++
			}
		default:
			return
		}
	}
}

// next scans the next token
func (s *scanner) next() (token, error) {
	s.chompws()
	at := s.position()
	if s.pos >= len(s.from) {
		return token{kind: tEOF, pos: at}, nil
	}
	b := s.from[s.pos]
	if isdigit(b) {
		return s.lexNumber(at)
	}
	if isalpha(b) || b == '_' {
		start := s.pos
		for s.pos < len(s.from) && isident(s.from[s.pos]) {
			s.pos++
		}
		return token{kind: tIdent, text: string(s.from[start:s.pos]), pos: at}, nil
	}
	if b == '"' || b == '\'' {
		return s.lexString(at, b)
	}
	if b >= utf8.RuneSelf {
		r, _ := utf8.DecodeRune(s.from[s.pos:])
		if unicode.IsLetter(r) {
			return token{}, s.errorf(at, "identifiers must be ASCII; got %q", r)
		}
		return token{}, s.errorf(at, "unexpected character %q", r)
	}
	op := func(k tokKind, n int) (token, error) {
		s.pos += n
		return token{kind: k, pos: at}, nil
	}
	c1 := s.peekat(1)
	switch b {
	case '(':
		return op(tLParen, 1)
	case ')':
		return op(tRParen, 1)
	case '{':
		return op(tLBrace, 1)
	case '}':
		return op(tRBrace, 1)
	case ',':
		return op(tComma, 1)
	case ';':
		return op(tSemi, 1)
	case '.':
		if c1 == '.' {
			return op(tDotDot, 2)
		}
	case '+':
		if c1 == '=' {
			return op(tPlusEq, 2)
		}
		return op(tPlus, 1)
	case '-':
		if c1 == '=' {
			return op(tMinusEq, 2)
		}
		return op(tMinus, 1)
	case '*':
		if c1 == '=' {
			return op(tStarEq, 2)
		}
		return op(tStar, 1)
	case '/':
		if c1 == '=' {
			return op(tSlashEq, 2)
		}
		return op(tSlash, 1)
	case '%':
		return op(tPercent, 1)
	case '|':
		if c1 == '|' {
			if s.peekat(2) == '=' {
				return op(tConcatEq, 3)
			}
			return op(tConcat, 2)
		}
	case '=':
		if c1 == '=' {
			return op(tEq, 2)
		}
		return op(tEq, 1)
	case '!':
		if c1 == '=' {
			return op(tNe, 2)
		}
	case '<':
		switch c1 {
		case '=':
			return op(tLe, 2)
		case '>':
			return op(tNe, 2)
		}
		return op(tLt, 1)
	case '>':
		if c1 == '=' {
			return op(tGe, 2)
		}
		return op(tGt, 1)
	}
	return token{}, s.errorf(at, "unexpected character %q", b)
}

func (s *scanner) lexNumber(at expr.Position) (token, error) {
	start := s.pos
	kind := tInt
	for s.pos < len(s.from) && isdigit(s.from[s.pos]) {
		s.pos++
	}
	// a '.' followed by another '.' is a range
	if s.peekat(0) == '.' && s.peekat(1) != '.' {
		kind = tFloat
		s.pos++
		for s.pos < len(s.from) && isdigit(s.from[s.pos]) {
			s.pos++
		}
	}
	if c := s.peekat(0); c == 'e' || c == 'E' {
		kind = tFloat
		s.pos++
		if c := s.peekat(0); c == '+' || c == '-' {
			s.pos++
		}
		if !isdigit(s.peekat(0)) {
			return token{}, s.errorf(at, "malformed exponent in %q", s.from[start:s.pos])
		}
		for s.pos < len(s.from) && isdigit(s.from[s.pos]) {
			s.pos++
		}
	}
	if s.pos < len(s.from) && isident(s.from[s.pos]) {
		return token{}, s.errorf(at, "malformed number %q", s.from[start:s.pos+1])
	}
	return token{kind: kind, text: string(s.from[start:s.pos]), pos: at}, nil
}

func (s *scanner) lexString(at expr.Position, quote byte) (token, error) {
	s.pos++ // opening quote
	var out strings.Builder
	for {
		if s.pos >= len(s.from) || s.from[s.pos] == '\n' {
			return token{}, s.errorf(at, "unterminated string")
		}
		c := s.from[s.pos]
		if c == quote {
			// SQL-style doubled quote
			if s.peekat(1) == quote {
				out.WriteByte(quote)
				s.pos += 2
				continue
			}
			s.pos++
			break
		}
		if c == '\\' {
			rest := string(s.from[s.pos:min(len(s.from), s.pos+12)])
			r, multi, tail, err := strconv.UnquoteChar(rest, quote)
			if err != nil {
				return token{}, s.errorf(s.position(), "invalid escape sequence in string")
			}
			if multi || r >= utf8.RuneSelf {
				out.WriteRune(r)
			} else {
				out.WriteByte(byte(r))
			}
			s.pos += len(rest) - len(tail)
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	str := out.String()
	if !utf8.ValidString(str) {
		return token{}, s.errorf(at, "string literal is not valid UTF-8")
	}
	return token{kind: tString, text: str, pos: at}, nil
}
