package matching

import (
	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// fold case-normalizes s. A Caser is stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// EditDistance is the Levenshtein distance between the case-folded inputs.
func EditDistance(a, b string) int {
	return levenshtein.ComputeDistance(fold(a), fold(b))
}

// JaroWinkler returns the Jaro similarity plus a prefix bonus of
// 0.1 * prefix * (1 - jaro), with the common prefix capped at 4 runes.
func JaroWinkler(a, b string) float64 {
	s1, s2 := []rune(fold(a)), []rune(fold(b))
	j := jaro(s1, s2)

	prefix := 0
	for prefix < len(s1) && prefix < len(s2) && prefix < 4 && s1[prefix] == s2[prefix] {
		prefix++
	}
	return j + 0.1*float64(prefix)*(1-j)
}

func jaro(s1, s2 []rune) float64 {
	if len(s1) == 0 && len(s2) == 0 {
		return 1
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0
	}

	window := max(len(s1), len(s2))/2 - 1
	if window < 0 {
		window = 0
	}
	matched1 := make([]bool, len(s1))
	matched2 := make([]bool, len(s2))

	matches := 0
	for i := range s1 {
		lo := max(0, i-window)
		hi := min(len(s2), i+window+1)
		for k := lo; k < hi; k++ {
			if matched2[k] || s1[i] != s2[k] {
				continue
			}
			matched1[i], matched2[k] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range s1 {
		if !matched1[i] {
			continue
		}
		for !matched2[k] {
			k++
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(s1)) + m/float64(len(s2)) + (m-float64(transpositions)/2)/m) / 3
}

// compareField scores two present values under f.
func compareField(f FieldRule, a, b string) float64 {
	var matched bool
	switch f.Algorithm {
	case AlgorithmExact:
		matched = fold(a) == fold(b)
	case AlgorithmEditDistance:
		matched = float64(EditDistance(a, b)) <= f.Threshold
	case AlgorithmPhoneticSimilarity:
		matched = JaroWinkler(a, b) >= f.Threshold
	}
	if matched {
		return f.Weight
	}
	return 0
}
