package catalog

import (
	"sort"
	"strings"
)

const defaultSearchLimit = 20

// searchIndex maps normalized keyword tokens to the operations that
// mention them. Derived from the catalog at load time, rebuilt with it,
// never mutated incrementally.
type searchIndex struct {
	tokens map[string][]string // token → operation ids, declaration order
}

func buildSearchIndex(c *Catalog) *searchIndex {
	idx := &searchIndex{tokens: make(map[string][]string)}
	for _, id := range c.opOrder {
		op := c.operations[id]
		seen := make(map[string]bool)
		for _, src := range []string{op.ID, op.Summary, op.Service} {
			for _, tok := range tokenize(src) {
				if seen[tok] {
					continue
				}
				seen[tok] = true
				idx.tokens[tok] = append(idx.tokens[tok], id)
			}
		}
	}
	return idx
}

// tokenize lowercases s and splits on every non-alphanumeric rune.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

// SearchOperations returns operations matching query, best first:
// an exact operation id match ranks before operation id substring
// matches, which rank before keyword token matches. Ties keep
// declaration order. An empty query yields an empty result.
func (c *Catalog) SearchOperations(query string, limit int) []OperationInfo {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	lower := strings.ToLower(query)

	type match struct {
		op   *Operation
		hits int
	}
	var exact, substr []*Operation
	var keyword []match
	ranked := make(map[string]bool)

	for _, id := range c.opOrder {
		op := c.operations[id]
		idLower := strings.ToLower(op.ID)
		switch {
		case idLower == lower:
			exact = append(exact, op)
			ranked[id] = true
		case strings.Contains(idLower, lower):
			substr = append(substr, op)
			ranked[id] = true
		}
	}

	// Keyword pass over the token index for whatever is left.
	hits := make(map[string]int)
	for _, tok := range tokenize(query) {
		for _, id := range c.index.tokens[tok] {
			if !ranked[id] {
				hits[id]++
			}
		}
	}
	for id, n := range hits {
		keyword = append(keyword, match{op: c.operations[id], hits: n})
	}
	sort.Slice(keyword, func(i, j int) bool {
		if keyword[i].hits != keyword[j].hits {
			return keyword[i].hits > keyword[j].hits
		}
		return keyword[i].op.order < keyword[j].op.order
	})

	out := make([]OperationInfo, 0, limit)
	appendOps := func(ops []*Operation) {
		for _, op := range ops {
			if len(out) >= limit {
				return
			}
			out = append(out, op.info())
		}
	}
	appendOps(exact)
	appendOps(substr)
	for _, m := range keyword {
		if len(out) >= limit {
			break
		}
		out = append(out, m.op.info())
	}
	return out
}
