// Package verify implements the verification engine (C3): claim extraction
// from a reply and scoring of each claim against a context snapshot (§4.2).
package verify

import (
	"regexp"
	"strings"
)

// ClaimType classifies one extracted sentence.
type ClaimType string

const (
	ClaimFactual   ClaimType = "factual"
	ClaimNumerical ClaimType = "numerical"
	ClaimTemporal  ClaimType = "temporal"
	ClaimReference ClaimType = "reference"
	ClaimOpinion   ClaimType = "opinion"
)

// Claim is one extracted sentence judged against the context snapshot.
type Claim struct {
	Text       string
	Type       ClaimType
	Verified   bool
	Confidence float64
	Source     string
}

// minClaimLen is the minimum sentence length (in characters) to be
// considered a claim at all; shorter fragments are discarded.
const minClaimLen = 10

var sentenceSplit = regexp.MustCompile(`(?s)(.*?[.!?])\s+|(.+)$`)

// splitSentences splits reply text into sentences on terminators, keeping
// the terminator with the sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	matches := sentenceSplit.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		s := strings.TrimSpace(m[1])
		if s == "" {
			s = strings.TrimSpace(m[2])
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var hedgePatterns = []string{
	"i think", "i believe", "probably", "might", "may be", "seems like",
	"it's possible", "i'm not sure", "not certain", "could be", "perhaps",
}

var temporalTokens = []string{
	"yesterday", "today", "tomorrow", "ago", "since", "last week", "last month",
	"last year", "next week", "next month", "next year",
}

var referenceTokens = []string{
	"according to", "based on", "as stated in", "as per", "per the",
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
var datePattern = regexp.MustCompile(`\b\d{1,2}/\d{1,2}(/\d{2,4})?\b`)
var percentPattern = regexp.MustCompile(`\d+(\.\d+)?\s*%`)
var currencyPattern = regexp.MustCompile(`[$€£]\s*\d|\d+(\.\d+)?\s*(dollars|usd|cents)`)

var largeNumberKeywords = []string{"million", "billion", "thousand", "percent"}

// ExtractClaims splits a reply into sentences and classifies each one,
// discarding opinion sentences and sentences too short to carry a claim.
func ExtractClaims(reply string) []Claim {
	sentences := splitSentences(reply)
	claims := make([]Claim, 0, len(sentences))
	for _, s := range sentences {
		if len(s) < minClaimLen {
			continue
		}
		lower := strings.ToLower(s)
		if containsAny(lower, hedgePatterns) {
			continue // opinion claims are dropped entirely (§4.2)
		}
		claims = append(claims, Claim{Text: s, Type: classify(lower)})
	}
	return claims
}

func classify(lower string) ClaimType {
	if percentPattern.MatchString(lower) || currencyPattern.MatchString(lower) || containsAny(lower, largeNumberKeywords) {
		return ClaimNumerical
	}
	if yearPattern.MatchString(lower) || datePattern.MatchString(lower) || containsAny(lower, temporalTokens) {
		return ClaimTemporal
	}
	if containsAny(lower, referenceTokens) {
		return ClaimReference
	}
	return ClaimFactual
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// safeGeneralKnowledgePatterns match sentences that are verifiable as "safe"
// without any corroborating source: greetings, honest uncertainty, and
// self-description. Questions (ending in "?") are also treated as safe.
var safeGeneralKnowledgePatterns = []string{
	"hello", "hi there", "how can i help", "how may i help", "good morning",
	"good afternoon", "good evening", "i don't have that information",
	"i do not have that information", "i'm not able to", "i am not able to",
	"i'm an ai", "i am an ai", "i'm an assistant", "i am an assistant",
}

// isSafeGeneralKnowledge reports whether a sentence should be treated as
// trivially verified general knowledge rather than requiring a citation.
func isSafeGeneralKnowledge(sentence string) bool {
	trimmed := strings.TrimSpace(sentence)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lower := strings.ToLower(trimmed)
	return containsAny(lower, safeGeneralKnowledgePatterns)
}
