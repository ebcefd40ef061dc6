// Package evidence turns retrieval results into the context handed to answer
// synthesis and the identifiers persisted as provenance. Both are derived from
// the same records so the answer, the evidence shown and the stored links agree.
package evidence

import (
	"sort"

	"github.com/scope3-agent/backend/internal/agent"
)

// ExtractIDs walks a result of any shape (one record, a list of records, nested
// maps and lists) and returns, in encounter order, every string found under the
// identifier field. Values under that field may be a string or a list of strings.
// Map keys other than the identifier are visited in sorted order so the output
// is deterministic.
func ExtractIDs(result any) []string {
	ids := []string{}
	collect(result, &ids)
	return ids
}

func collect(v any, ids *[]string) {
	switch t := v.(type) {
	case map[string]any:
		collectMap(t, ids)
	case []map[string]any:
		for _, m := range t {
			collectMap(m, ids)
		}
	case []any:
		for _, item := range t {
			collect(item, ids)
		}
	}
}

func collectMap(m map[string]any, ids *[]string) {
	if m == nil {
		return
	}

	if raw, ok := m[agent.IDField]; ok {
		switch id := raw.(type) {
		case string:
			if id != "" {
				*ids = append(*ids, id)
			}
		case []string:
			for _, s := range id {
				if s != "" {
					*ids = append(*ids, s)
				}
			}
		case []any:
			for _, item := range id {
				if s, ok := item.(string); ok && s != "" {
					*ids = append(*ids, s)
				}
			}
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if k != agent.IDField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		collect(m[k], ids)
	}
}

// Dedupe drops repeated identifiers, keeping first occurrences.
func Dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
