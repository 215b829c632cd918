package game

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

var (
	textFields   = []string{"question", "baseQuestion", "text"}
	optionFields = []string{"options", "choices", "optionsArray"}
)

// SelectQuestions shuffles a copy of the pool and returns the first count
// entries. A pool smaller than count yields all of it.
func SelectQuestions(rng *rand.Rand, pool []Question, count int) ([]Question, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	shuffled := make([]Question, len(pool))
	copy(shuffled, pool)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	if count > len(shuffled) {
		count = len(shuffled)
	}
	return shuffled[:count], nil
}

// NormalizeQuestions accepts a list or an index-keyed object of question
// records and returns them in index order.
func NormalizeQuestions(raw any) ([]Question, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]Question, 0, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			q, err := NormalizeQuestion(item, strconv.Itoa(i+1))
			if err != nil {
				return nil, err
			}
			out = append(out, q)
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sortKeys(keys)
		out := make([]Question, 0, len(keys))
		for i, k := range keys {
			fallback := k
			if _, err := strconv.Atoi(k); err == nil {
				fallback = strconv.Itoa(i + 1)
			}
			q, err := NormalizeQuestion(v[k], fallback)
			if err != nil {
				return nil, err
			}
			out = append(out, q)
		}
		return out, nil
	}
	return nil, fmt.Errorf("questions: unexpected %T", raw)
}

// NormalizeQuestion maps the historical field names of a question record onto
// Question. fallbackID is used when the record carries no id.
func NormalizeQuestion(raw any, fallbackID string) (Question, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Question{}, fmt.Errorf("question %s: unexpected %T", fallbackID, raw)
	}
	q := Question{ID: fallbackID}
	switch id := m["id"].(type) {
	case string:
		if id != "" {
			q.ID = id
		}
	case float64:
		q.ID = strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		q.ID = strconv.Itoa(id)
	}
	for _, f := range textFields {
		if s, ok := m[f].(string); ok && strings.TrimSpace(s) != "" {
			q.Text = s
			break
		}
	}
	if q.Text == "" {
		q.Text = "Question " + fallbackID
	}
	for _, f := range optionFields {
		if opts := normalizeOptions(m[f]); opts != nil {
			q.Options = opts
			break
		}
	}
	if q.Options == nil {
		q.Options = []string{}
	}
	return q, nil
}

func normalizeOptions(raw any) []string {
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, o := range v {
			out = append(out, optionString(o))
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sortKeys(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, optionString(v[k]))
		}
		return out
	}
	return nil
}

func optionString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// sortKeys orders integer keys numerically ahead of any other keys.
func sortKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		}
		return keys[i] < keys[j]
	})
}
