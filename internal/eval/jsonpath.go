// Package eval implements placeholder resolution and the restricted
// JSON path grammar used by extractions, assertions and step templates.
package eval

import (
	"encoding/json"
	"strconv"
	"strings"
)

// pathSegment is one navigation step: a field name, an index, or the
// terminal length()/size() function.
type pathSegment struct {
	field  string
	index  int
	isIdx  bool
	isFunc bool
}

// parsePath tokenizes the restricted grammar: optional "$" root,
// ".field", "[N]", and a trailing ".length()" / ".size()".
func parsePath(path string) ([]pathSegment, bool) {
	s := strings.TrimSpace(path)
	s = strings.TrimPrefix(s, "$")

	var segs []pathSegment
	i := 0
	for i < len(s) {
		switch s[i] {
		case '.':
			i++
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, false
			}
			n, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || n < 0 {
				return nil, false
			}
			segs = append(segs, pathSegment{index: n, isIdx: true})
			i += end + 1
		default:
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' {
				j++
			}
			field := s[i:j]
			if field == "length()" || field == "size()" {
				// Must be terminal.
				if j != len(s) {
					return nil, false
				}
				segs = append(segs, pathSegment{isFunc: true})
			} else if field != "" {
				segs = append(segs, pathSegment{field: field})
			}
			i = j
		}
	}
	return segs, true
}

// EvalPath extracts the value at path from root. The second return is
// false when the path does not parse or a key/index is missing.
func EvalPath(root any, path string) (any, bool) {
	segs, ok := parsePath(path)
	if !ok {
		return nil, false
	}

	cur := root
	for _, seg := range segs {
		switch {
		case seg.isFunc:
			switch v := cur.(type) {
			case []any:
				return len(v), true
			case string:
				return len(v), true
			case map[string]any:
				return len(v), true
			default:
				return nil, false
			}
		case seg.isIdx:
			arr, ok := cur.([]any)
			if !ok || seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.index]
		default:
			switch v := cur.(type) {
			case map[string]any:
				next, ok := v[seg.field]
				if !ok {
					return nil, false
				}
				cur = next
			case map[string]string:
				next, ok := v[seg.field]
				if !ok {
					return nil, false
				}
				cur = next
			default:
				return nil, false
			}
		}
	}
	return cur, true
}

// Stringify renders an extracted value the way placeholders embed it:
// scalars verbatim, subtrees as compact JSON, nil as the empty string.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ParseJSON parses b into a generic tree; a non-JSON payload is
// returned as its raw string form.
func ParseJSON(b []byte) any {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	return v
}
