package textindex

// damerauLevenshtein computes the Damerau-Levenshtein edit distance between
// a and b, counting adjacent transpositions as a single edit alongside
// insertion, deletion, and substitution. There is no ready-made library for
// this in the dependency set this codebase otherwise draws from, so it is
// implemented directly; the classic O(len(a)*len(b)) dynamic-programming
// table is more than fast enough for the short search terms this index
// fuzzy-matches against.
func damerauLevenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	d := make([][]int, la+1)
	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}

	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min3(
				d[i-1][j]+1,
				d[i][j-1]+1,
				d[i-1][j-1]+cost,
			)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if t := d[i-2][j-2] + cost; t < d[i][j] {
					d[i][j] = t
				}
			}
		}
	}
	return d[la][lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// fuzzyMatch reports whether term is within maxDistance Damerau-Levenshtein
// edits of candidate.
func fuzzyMatch(term, candidate string, maxDistance int) bool {
	return damerauLevenshtein(term, candidate) <= maxDistance
}

// FuzzyMatch is the exported form of fuzzyMatch, so packages outside
// textindex that need to decide whether a token matches a subscribed search
// term (rather than running a full query) can reuse the same edit-distance
// rule a Search call would apply.
func FuzzyMatch(term, candidate string, maxDistance int) bool {
	return fuzzyMatch(term, candidate, maxDistance)
}
