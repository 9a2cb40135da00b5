// Package docquery evaluates predicate fragments against stored JSON
// documents for stores without a SQL engine.
//
// A fragment is an optional WHERE followed by conditions joined with AND, and
// an optional ORDER BY clause:
//
//	[WHERE] path op operand [AND ...] [ORDER BY path [ASC|DESC], ...]
//
// Paths are gjson paths into the document; @id and @version address the row
// columns. Operators are = != <> < <= > >= and @> (containment). Operands are
// '?' placeholders or literals: numbers, quoted strings, true, false, null.
package docquery

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokNumber
	tokOp
	tokParam
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) keyword(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '?':
			out = append(out, token{kind: tokParam, text: "?", pos: i})
			i++
		case c == ',':
			out = append(out, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '\'' || c == '"':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, fmt.Errorf("position %d: %w", i, err)
			}
			out = append(out, token{kind: tokString, text: s, pos: i})
			i += n
		case c == '@' && i+1 < len(src) && src[i+1] == '>':
			out = append(out, token{kind: tokOp, text: "@>", pos: i})
			i += 2
		case strings.IndexByte("=<>!", c) >= 0:
			op := string(c)
			if i+1 < len(src) {
				if two := src[i : i+2]; two == "<=" || two == ">=" || two == "!=" || two == "<>" {
					op = two
				}
			}
			if op == "!" {
				return nil, fmt.Errorf("position %d: unexpected '!'", i)
			}
			out = append(out, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || strings.IndexByte(".eE+-", src[j]) >= 0) {
				j++
			}
			out = append(out, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		case isWordByte(c):
			j := i
			for j < len(src) && isWordByte(src[j]) && (j == i || src[j] != '@') {
				j++
			}
			out = append(out, token{kind: tokWord, text: src[i:j], pos: i})
			i = j
		default:
			return nil, fmt.Errorf("position %d: unexpected %q", i, c)
		}
	}
	return append(out, token{kind: tokEOF, pos: len(src)}), nil
}

// lexString reads a quoted literal; a doubled quote escapes itself.
func lexString(src string) (string, int, error) {
	quote := src[0]
	var b strings.Builder
	for i := 1; i < len(src); i++ {
		if src[i] != quote {
			b.WriteByte(src[i])
			continue
		}
		if i+1 < len(src) && src[i+1] == quote {
			b.WriteByte(quote)
			i++
			continue
		}
		return b.String(), i + 1, nil
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c == '@' || c == '#' || c == '*' || isDigit(c) ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
