package wake

import "strings"

// WordErrorRate computes the word error rate of a hypothesis transcript
// against a reference transcript: the same word-level edit-distance DP
// wordDistance already uses for phrase fuzzy-matching (§4.1), reused here as
// the observability-only evaluator from SPEC_FULL.md §11 ("Word-error-rate
// evaluation against an optional reference transcript... never gates the
// turn"). Returns 0 when ref is empty (nothing to compare against).
func WordErrorRate(hyp, ref string) float64 {
	refWords := strings.Fields(ref)
	if len(refWords) == 0 {
		return 0
	}
	hypWords := strings.Fields(hyp)
	return float64(wordDistance(hypWords, refWords)) / float64(len(refWords))
}
