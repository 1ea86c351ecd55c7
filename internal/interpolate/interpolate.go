// Copyright 2025 The FlowerPower Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package interpolate expands compose-style ${VAR} references in decoded
// YAML trees before they are typed into configuration records.
package interpolate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	fperrors "github.com/legout/flowerpower/pkg/errors"
)

// maxDepth bounds how deeply default words may nest further ${...}
// references; looked-up values are inserted as-is and never re-expanded.
const maxDepth = 10

// Lookup resolves a variable name. The second result reports whether the
// variable is set at all (an empty value is still "set").
type Lookup func(name string) (string, bool)

// Expand walks a decoded YAML tree and expands every string scalar against
// the process environment. Substituted strings that parse as JSON literals
// are replaced by the parsed value.
func Expand(tree any) (any, error) {
	return ExpandWith(tree, os.LookupEnv)
}

// ExpandWith is Expand with an explicit variable lookup.
func ExpandWith(tree any, lookup Lookup) (any, error) {
	switch v := tree.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			expanded, err := ExpandWith(val, lookup)
			if err != nil {
				return nil, err
			}
			out[k] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			expanded, err := ExpandWith(val, lookup)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	case string:
		expanded, substituted, err := expandString(v, lookup, 0)
		if err != nil {
			return nil, err
		}
		if !substituted {
			return expanded, nil
		}
		return postParse(expanded), nil
	default:
		return tree, nil
	}
}

// expandString substitutes ${VAR} references in s. The second result
// reports whether any substitution took place.
func expandString(s string, lookup Lookup, depth int) (string, bool, error) {
	if depth > maxDepth {
		return "", false, &fperrors.ConfigError{
			Layer:  "file",
			Reason: fmt.Sprintf("interpolation exceeded %d levels of nesting", maxDepth),
		}
	}

	var out strings.Builder
	substituted := false
	i := 0
	for i < len(s) {
		c := s[i]
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}
		// $$ escapes a literal dollar, so $${FOO} yields ${FOO}.
		if i+1 < len(s) && s[i+1] == '$' {
			out.WriteByte('$')
			i += 2
			continue
		}
		if i+1 >= len(s) || s[i+1] != '{' {
			out.WriteByte(c)
			i++
			continue
		}

		end, ok := matchBrace(s, i+1)
		if !ok {
			return "", false, &fperrors.ConfigError{
				Layer:  "file",
				Reason: fmt.Sprintf("unterminated ${ in %q", s),
			}
		}
		expr := s[i+2 : end]
		value, err := evalExpr(expr, lookup, depth)
		if err != nil {
			return "", false, err
		}
		out.WriteString(value)
		substituted = true
		i = end + 1
	}
	return out.String(), substituted, nil
}

// matchBrace returns the index of the '}' matching the '{' at open,
// accounting for nested ${...} inside default values.
func matchBrace(s string, open int) (int, bool) {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// evalExpr evaluates the inside of one ${...} reference.
func evalExpr(expr string, lookup Lookup, depth int) (string, error) {
	name, op, word := splitExpr(expr)
	if name == "" {
		return "", &fperrors.ConfigError{
			Layer:  "file",
			Reason: fmt.Sprintf("invalid interpolation expression ${%s}", expr),
		}
	}

	value, set := lookup(name)
	switch op {
	case "":
		// Unset yields the empty string.
		return value, nil
	case ":-":
		if set && value != "" {
			return value, nil
		}
		expanded, _, err := expandString(word, lookup, depth+1)
		return expanded, err
	case "-":
		if set {
			return value, nil
		}
		expanded, _, err := expandString(word, lookup, depth+1)
		return expanded, err
	case ":?":
		if set && value != "" {
			return value, nil
		}
		return "", requiredError(name, word)
	case "?":
		if set {
			return value, nil
		}
		return "", requiredError(name, word)
	default:
		return "", &fperrors.ConfigError{
			Layer:  "file",
			Reason: fmt.Sprintf("invalid interpolation operator in ${%s}", expr),
		}
	}
}

func requiredError(name, msg string) error {
	if msg == "" {
		msg = fmt.Sprintf("required variable %s is missing", name)
	}
	return &fperrors.ConfigError{
		Key:    name,
		Layer:  "file",
		Reason: msg,
	}
}

// splitExpr splits "VAR:-def" into name, operator, and word. The operator
// starts at the first character that cannot be part of a variable name;
// leftmost match wins.
func splitExpr(expr string) (name, op, word string) {
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if isNameByte(c, i) {
			continue
		}
		name = expr[:i]
		rest := expr[i:]
		for _, candidate := range []string{":-", ":?", "-", "?"} {
			if strings.HasPrefix(rest, candidate) {
				return name, candidate, rest[len(candidate):]
			}
		}
		return "", "", ""
	}
	return expr, "", ""
}

func isNameByte(c byte, pos int) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9':
		return pos > 0
	default:
		return false
	}
}

// postParse replaces a substituted string with its JSON value when the
// whole string parses as a JSON literal (null, bool, number, array, object,
// or quoted string); otherwise the string is kept exactly as produced.
func postParse(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return s
	}
	return parsed
}
