package redaction

import "sort"

// DeduplicateEntities groups entities by (type, start, end) and keeps the
// highest-scoring element of each group. Entities with a missing type are
// normalized to UnknownType. The result is sorted by (start, end, type) so
// the operation is order independent and idempotent.
func DeduplicateEntities(entities []Entity) []Entity {
	if len(entities) == 0 {
		return []Entity{}
	}

	best := make(map[Key]Entity, len(entities))
	for _, e := range entities {
		if e.Type == "" {
			e.Type = UnknownType
		}
		k := e.Key()
		if cur, ok := best[k]; !ok || e.Score > cur.Score {
			best[k] = e
		}
	}

	out := make([]Entity, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		if out[i].End != out[j].End {
			return out[i].End < out[j].End
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// MergeMappings unions the pages of all input mappings by page number,
// concatenating the sensitive items of each source mapping in input order.
// No deduplication happens here: the caller applies DeduplicateMapping
// separately when it wants a deduplicated view. Output pages are sorted
// ascending with at most one entry per page number.
func MergeMappings(mappings ...Mapping) Mapping {
	byPage := make(map[int][]Entity)
	for _, m := range mappings {
		for _, p := range m.Pages {
			byPage[p.Page] = append(byPage[p.Page], p.Sensitive...)
		}
	}

	nums := make([]int, 0, len(byPage))
	for n := range byPage {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	merged := Mapping{Pages: make([]Page, 0, len(nums))}
	for _, n := range nums {
		items := byPage[n]
		if items == nil {
			items = []Entity{}
		}
		merged.Pages = append(merged.Pages, Page{Page: n, Sensitive: items})
	}
	return merged
}

// DeduplicateMapping applies DeduplicateEntities to every page of a mapping.
// Page order and numbers are preserved.
func DeduplicateMapping(m Mapping) Mapping {
	out := Mapping{Pages: make([]Page, 0, len(m.Pages))}
	for _, p := range m.Pages {
		out.Pages = append(out.Pages, Page{
			Page:      p.Page,
			Sensitive: DeduplicateEntities(p.Sensitive),
		})
	}
	return out
}
