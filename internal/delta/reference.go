package delta

import "sort"

// SelectReference picks the reference closest in length to a target of
// the given length from candidates, bounded by a minimum length ratio so a delta is never attempted against a wildly
// mismatched reference. Candidates are considered in order of increasing
// |length - targetLen|, ties going to the longer candidate and then to the
// smaller hash; the first one whose length ratio against targetLen meets
// ratio is returned. ok is false if no candidate qualifies (the caller
// then stores target directly, undeltaed).
func SelectReference(targetLen int64, candidates []Candidate, ratio float64) (Candidate, bool) {
	if targetLen <= 0 || len(candidates) == 0 {
		return Candidate{}, false
	}

	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		di, dj := sorted[i].Length-targetLen, sorted[j].Length-targetLen
		if di < 0 {
			di = -di
		}
		if dj < 0 {
			dj = -dj
		}
		if di != dj {
			return di < dj
		}
		if sorted[i].Length != sorted[j].Length {
			return sorted[i].Length > sorted[j].Length
		}
		return sorted[i].Hash.Less(sorted[j].Hash)
	})

	for _, c := range sorted {
		if c.Length <= 0 {
			continue
		}
		if lengthRatio(targetLen, c.Length) >= ratio {
			return c, true
		}
	}
	return Candidate{}, false
}

func lengthRatio(a, b int64) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return float64(lo) / float64(hi)
}
