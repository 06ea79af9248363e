// Package shape post-processes raw API responses for a
// token-constrained caller: dotted-path field projection and
// size-bounded truncation.
package shape

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxEnvelopeKeys bounds the key listing kept for an over-limit object
// body.
const maxEnvelopeKeys = 10

// Shape applies field projection, then truncation. Projection runs
// first so that a narrowed response may dodge the size check entirely.
func Shape(data any, fields []string, maxSize int) any {
	data = Project(data, fields)
	if maxSize > 0 {
		data = Truncate(data, maxSize)
	}
	return data
}

// Project reduces data to the requested dotted field paths (for
// example "participant.name"), descending through lists so that a list
// of objects keeps its list structure. Paths that do not exist are
// silently omitted: with a large schema every path is legitimately
// "maybe absent". Projection is idempotent.
func Project(data any, fields []string) any {
	if len(fields) == 0 {
		return data
	}
	out, _ := project(data, fields)
	return out
}

func project(data any, fields []string) (any, bool) {
	switch v := data.(type) {
	case []any:
		out := make([]any, len(v))
		matched := false
		for i, item := range v {
			p, ok := project(item, fields)
			out[i] = p
			matched = matched || ok
		}
		return out, matched
	case map[string]any:
		// Group paths by their leading segment so "a.b" and "a.c"
		// merge under one "a".
		whole := make(map[string]bool)
		tails := make(map[string][]string)
		var heads []string
		for _, f := range fields {
			head, tail, cut := strings.Cut(f, ".")
			if head == "" {
				continue
			}
			if _, seen := whole[head]; !seen {
				if _, seen := tails[head]; !seen {
					heads = append(heads, head)
				}
			}
			if cut && tail != "" {
				tails[head] = append(tails[head], tail)
			} else {
				whole[head] = true
			}
		}
		out := make(map[string]any)
		matched := false
		for _, head := range heads {
			val, ok := v[head]
			if !ok {
				continue
			}
			if whole[head] {
				out[head] = val
				matched = true
				continue
			}
			sub, ok := project(val, tails[head])
			if ok {
				out[head] = sub
				matched = true
			}
		}
		return out, matched
	default:
		return data, false
	}
}

// Truncate wraps data in a truncation envelope when its compact JSON
// serialization exceeds limit bytes. At or under the limit, data is
// returned untouched with no wrapper. The envelope always reports the
// true pre-truncation size so the caller can decide to re-request with
// narrower fields or pagination instead of silently losing data.
func Truncate(data any, limit int) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	size := len(raw)
	if size <= limit {
		return data
	}
	return map[string]any{
		"_truncated": true,
		"_size":      size,
		"_limit":     limit,
		"data":       partial(data, limit),
	}
}

// partial builds the best-effort payload kept inside the envelope.
func partial(data any, limit int) any {
	switch v := data.(type) {
	case []any:
		// Keep the count plus as many leading items as fit the budget.
		var items []any
		used := 0
		for _, item := range v {
			b, err := json.Marshal(item)
			if err != nil {
				break
			}
			if used+len(b) > limit {
				break
			}
			used += len(b)
			items = append(items, item)
		}
		if items == nil {
			items = []any{}
		}
		return map[string]any{"count": len(v), "first_items": items}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > maxEnvelopeKeys {
			keys = keys[:maxEnvelopeKeys]
		}
		return map[string]any{"keys": keys}
	case string:
		return truncateString(v, limit)
	default:
		return v
	}
}

// truncateString cuts s to at most limit bytes without splitting a
// UTF-8 sequence.
func truncateString(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
