package suggest

import (
	"cmp"
	"slices"
)

// rankedKey is a document key with the number of postings that matched it.
type rankedKey struct {
	Key   string
	Count int
}

// rankKeys reduces a list of document keys to its unique keys ordered by
// descending occurrence count, then ascending key.
func rankKeys(keys []string) []rankedKey {
	counts := make(map[string]int, len(keys))
	for _, k := range keys {
		counts[k]++
	}

	ranked := make([]rankedKey, 0, len(counts))
	for k, n := range counts {
		ranked = append(ranked, rankedKey{Key: k, Count: n})
	}
	slices.SortFunc(ranked, compareRanked)
	return ranked
}

func compareRanked(a, b rankedKey) int {
	if c := cmp.Compare(b.Count, a.Count); c != 0 {
		return c
	}
	return cmp.Compare(a.Key, b.Key)
}

// intersect returns the keys present in every set, ordered by the sum of
// their counts across sets (descending), then key. No sets yields no keys.
func intersect(sets [][]rankedKey) []rankedKey {
	if len(sets) == 0 {
		return nil
	}

	total := make(map[string]int, len(sets[0]))
	for _, rk := range sets[0] {
		total[rk.Key] = rk.Count
	}
	for _, set := range sets[1:] {
		next := make(map[string]int, len(total))
		for _, rk := range set {
			if n, ok := total[rk.Key]; ok {
				next[rk.Key] = n + rk.Count
			}
		}
		total = next
		if len(total) == 0 {
			return nil
		}
	}

	out := make([]rankedKey, 0, len(total))
	for k, n := range total {
		out = append(out, rankedKey{Key: k, Count: n})
	}
	slices.SortFunc(out, compareRanked)
	return out
}
