package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// exprPattern matches a ${...} span anywhere inside a JSON string value.
var exprPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// bracketIndex matches every [N] subscript in a path so items[0].name can be
// translated into gjson's dot-index form items.0.name before lookup.
var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// renderInput walks a step's raw JSON input and resolves every ${...} span
// against env (itself a JSON document: {"params":...,"steps":{...},"now":...,
// "today":...}). A string consisting of exactly one ${...} span keeps the
// resolved value's native JSON type (object/array/number/bool); a string
// with embedded or surrounding text has the resolved value stringified in
// place, matching how template languages usually behave.
func renderInput(input json.RawMessage, env []byte) (json.RawMessage, error) {
	if len(input) == 0 {
		return input, nil
	}

	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return nil, fmt.Errorf("decode step input: %w", err)
	}

	rendered, err := renderValue(v, env)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(rendered)
	if err != nil {
		return nil, fmt.Errorf("encode rendered input: %w", err)
	}
	return out, nil
}

func renderValue(v any, env []byte) (any, error) {
	switch val := v.(type) {
	case string:
		return renderString(val, env)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rendered, err := renderValue(item, env)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rendered, err := renderValue(item, env)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

func renderString(s string, env []byte) (any, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if matches == nil {
		return s, nil
	}

	// a string that is exactly one expression keeps the resolved value's type
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		return resolvePath(path, env)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		resolved, err := resolvePath(path, env)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(resolved))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func resolvePath(path string, env []byte) (any, error) {
	gpath := bracketIndex.ReplaceAllString(strings.TrimSpace(path), ".$1")
	gpath = strings.Trim(gpath, ".")

	result := gjson.GetBytes(env, gpath)
	if !result.Exists() {
		return nil, fmt.Errorf("unresolved variable %q", path)
	}
	return result.Value(), nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
