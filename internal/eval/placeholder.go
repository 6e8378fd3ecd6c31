package eval

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/internal/model"
)

// isoMillis is the UTC ISO-8601 timestamp layout with milliseconds.
const isoMillis = "2006-01-02T15:04:05.000Z"

// InputField is one manual-input placeholder found in a step's templates.
type InputField struct {
	Name         string `json:"name"`
	DefaultValue string `json:"defaultValue,omitempty"`
	HasDefault   bool   `json:"-"`
}

// Resolve expands a template in a single left-to-right pass. Expanded
// values are not re-scanned. Unbalanced or unknown placeholders stay
// literal and produce a warning. ${FILE:key} tokens are passed through
// untouched; the HTTP executor substitutes them.
func (s *Scope) Resolve(template string) (string, []string) {
	var out strings.Builder
	var warnings []string

	t := template
	i := 0
	for i < len(t) {
		rest := t[i:]
		switch {
		case strings.HasPrefix(rest, "${FILE:"):
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				warnings = append(warnings, fmt.Sprintf("unbalanced placeholder %q", rest))
				out.WriteString(rest)
				i = len(t)
				continue
			}
			out.WriteString(rest[:end+1])
			i += end + 1

		case strings.HasPrefix(rest, "${"):
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				warnings = append(warnings, fmt.Sprintf("unbalanced placeholder %q", rest))
				out.WriteString(rest)
				i = len(t)
				continue
			}
			name := rest[2:end]
			if val, ok := s.expandVariable(name, 0, &warnings); ok {
				out.WriteString(val)
			} else {
				warnings = append(warnings, fmt.Sprintf("unknown variable ${%s}", name))
				out.WriteString(rest[:end+1])
			}
			i += end + 1

		case strings.HasPrefix(rest, "{{"):
			end := strings.Index(rest, "}}")
			if end < 0 {
				warnings = append(warnings, fmt.Sprintf("unbalanced placeholder %q", rest))
				out.WriteString(rest)
				i = len(t)
				continue
			}
			expr := rest[2:end]
			val, ok, warn := s.resolveStepRef(expr)
			if warn != "" {
				warnings = append(warnings, warn)
			}
			if ok {
				out.WriteString(val)
			} else {
				out.WriteString(rest[:end+2])
			}
			i += end + 2

		case strings.HasPrefix(rest, "#{"):
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				warnings = append(warnings, fmt.Sprintf("unbalanced placeholder %q", rest))
				out.WriteString(rest)
				i = len(t)
				continue
			}
			field := parseInputField(rest[2:end])
			switch {
			case s.HasInput(field.Name):
				out.WriteString(s.Inputs[field.Name])
			case field.HasDefault:
				out.WriteString(field.DefaultValue)
			default:
				warnings = append(warnings, fmt.Sprintf("no value for input #{%s}", field.Name))
			}
			i += end + 1

		default:
			out.WriteByte(t[i])
			i++
		}
	}

	return out.String(), warnings
}

// expandVariable looks up an environment variable and produces its
// value per value type. VARIABLE recurses exactly one level.
func (s *Scope) expandVariable(name string, depth int, warnings *[]string) (string, bool) {
	if s.Env == nil {
		return "", false
	}
	v, ok := s.Env.Variable(name)
	if !ok {
		return "", false
	}
	switch v.Type {
	case model.ValueUUID:
		return uuid.NewString(), true
	case model.ValueISOTimestamp:
		return time.Now().UTC().Format(isoMillis), true
	case model.ValueVariable:
		if depth >= 1 {
			// Recursion is capped at one level; deeper references
			// stay literal.
			return v.Value, true
		}
		return s.expandNested(v.Value, warnings), true
	default:
		return v.Value, true
	}
}

// expandNested expands ${NAME} references inside a VARIABLE value.
func (s *Scope) expandNested(value string, warnings *[]string) string {
	var out strings.Builder
	i := 0
	for i < len(value) {
		rest := value[i:]
		if strings.HasPrefix(rest, "${") && !strings.HasPrefix(rest, "${FILE:") {
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				out.WriteString(rest)
				break
			}
			name := rest[2:end]
			if val, ok := s.expandVariable(name, 1, warnings); ok {
				out.WriteString(val)
			} else {
				*warnings = append(*warnings, fmt.Sprintf("unknown variable ${%s}", name))
				out.WriteString(rest[:end+1])
			}
			i += end + 1
			continue
		}
		out.WriteByte(value[i])
		i++
	}
	return out.String()
}

// resolveStepRef resolves a {{StepName.path}} expression. Extracted
// bindings win when the path is a single identifier; otherwise the
// path is evaluated against the implicit tree.
func (s *Scope) resolveStepRef(expr string) (val string, ok bool, warning string) {
	dot := strings.IndexByte(expr, '.')
	if dot < 0 {
		return "", false, fmt.Sprintf("invalid step reference {{%s}}", expr)
	}
	stepName := expr[:dot]
	path := expr[dot+1:]

	sc, found := s.Steps[stepName]
	if !found {
		return "", false, fmt.Sprintf("unknown step {{%s}}", expr)
	}

	if isIdentifier(path) {
		if v, ok := sc.Extracted[path]; ok {
			return v, true, ""
		}
	}

	v, found := EvalPath(sc.Tree, path)
	if !found {
		// Known step, missing key: stringify to empty.
		return "", true, fmt.Sprintf("path %q not found in step %q", path, stepName)
	}
	return Stringify(v), true, ""
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r == '.' || r == '[' || r == '(' {
			return false
		}
	}
	return true
}

// parseInputField splits "name" or "name:default" at the first colon.
func parseInputField(s string) InputField {
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		return InputField{Name: s[:idx], DefaultValue: s[idx+1:], HasDefault: true}
	}
	return InputField{Name: s}
}

// CollectInputs scans templates for #{name[:default]} tokens and
// returns the unique fields in first-occurrence order.
func CollectInputs(templates ...string) []InputField {
	var fields []InputField
	seen := map[string]struct{}{}
	for _, t := range templates {
		i := 0
		for i < len(t) {
			rest := t[i:]
			if strings.HasPrefix(rest, "#{") {
				end := strings.IndexByte(rest, '}')
				if end < 0 {
					break
				}
				field := parseInputField(rest[2:end])
				if _, ok := seen[field.Name]; !ok && field.Name != "" {
					seen[field.Name] = struct{}{}
					fields = append(fields, field)
				}
				i += end + 1
				continue
			}
			i++
		}
	}
	return fields
}

// FileToken extracts the key from a ${FILE:key} reference. The value
// must be exactly one token.
func FileToken(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(v, "${FILE:") && strings.HasSuffix(v, "}") {
		key := v[len("${FILE:") : len(v)-1]
		if key != "" && !strings.ContainsAny(key, "{}") {
			return key, true
		}
	}
	return "", false
}
