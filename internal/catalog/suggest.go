package catalog

import (
	"sort"
	"strings"
)

const maxSuggestions = 5

// suggestHint builds the "close matches" hint attached to NotFound
// errors. Substring containment wins, then a shared prefix of at least
// three characters; when nothing is close, a handful of valid names is
// listed so the caller always has something real to retry with.
func suggestHint(name string, candidates []string) string {
	lower := strings.ToLower(name)

	type scored struct {
		name   string
		prefix int
		order  int
	}
	var near []scored
	for i, cand := range candidates {
		cl := strings.ToLower(cand)
		switch {
		case strings.Contains(cl, lower) || strings.Contains(lower, cl):
			near = append(near, scored{name: cand, prefix: len(cl), order: i})
		default:
			if p := commonPrefix(lower, cl); p >= 3 {
				near = append(near, scored{name: cand, prefix: p, order: i})
			}
		}
	}

	if len(near) > 0 {
		sort.Slice(near, func(i, j int) bool {
			if near[i].prefix != near[j].prefix {
				return near[i].prefix > near[j].prefix
			}
			return near[i].order < near[j].order
		})
		if len(near) > maxSuggestions {
			near = near[:maxSuggestions]
		}
		names := make([]string, len(near))
		for i, s := range near {
			names[i] = s.name
		}
		return "close matches: " + strings.Join(names, ", ")
	}

	n := len(candidates)
	if n == 0 {
		return ""
	}
	if n > maxSuggestions {
		n = maxSuggestions
	}
	return "available include: " + strings.Join(candidates[:n], ", ")
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
