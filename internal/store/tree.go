package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Normalize converts any JSON-marshalable value into the generic tree form
// stored by implementations.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// Get walks segs from root.
func Get(root any, segs []string) (any, bool) {
	cur := root
	for _, s := range segs {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[s]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(s)
			if err != nil || i < 0 || i >= len(node) || node[i] == nil {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Set returns a copy of root with value placed at segs. Only the maps along
// the path are copied, so trees handed out earlier stay unchanged. A nil
// value removes the node and prunes parents left empty.
func Set(root any, segs []string, value any) any {
	if len(segs) == 0 {
		return prune(value)
	}
	var node map[string]any
	switch cur := root.(type) {
	case map[string]any:
		node = make(map[string]any, len(cur)+1)
		for k, v := range cur {
			node[k] = v
		}
	case []any:
		node = make(map[string]any, len(cur)+1)
		for i, v := range cur {
			if v != nil {
				node[strconv.Itoa(i)] = v
			}
		}
	default:
		node = map[string]any{}
	}
	child := Set(node[segs[0]], segs[1:], value)
	if child == nil {
		delete(node, segs[0])
	} else {
		node[segs[0]] = child
	}
	if len(node) == 0 {
		return nil
	}
	return node
}

func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		if c := prune(child); c != nil {
			out[k] = c
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// overlaps reports whether a change at one path can alter the value at the
// other: one must be a prefix of the other.
func overlaps(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
