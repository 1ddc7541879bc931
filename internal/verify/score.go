package verify

import (
	"fmt"
	"regexp"
	"strings"
)

// Snippet is one flattened (source_label, text) pair derived from a
// ContextSnapshot.
type Snippet struct {
	Source string
	Text   string
}

// ContextSnapshot is the immutable input to verification: external API
// data, an optional recent conversation slice, and optional knowledge-base
// strings (§3 "ContextSnapshot").
type ContextSnapshot struct {
	// API is a map from opaque keys to JSON-like values (nested maps,
	// slices, and scalars) returned by external context providers.
	API map[string]any
	// Conversation is a recent slice of (role, text) turns.
	Conversation []ConversationTurn
	// KnowledgeBase holds free-text snippets retrieved from a knowledge base
	// or vector-store search (§11 "RAG-style context enrichment").
	KnowledgeBase []string
}

// ConversationTurn is one flattened conversation message for scoring.
type ConversationTurn struct {
	Role string
	Text string
}

// Flatten walks the snapshot and produces a list of (source, text) pairs:
// nested objects emit "<path>: <leaf>" for scalars, arrays are flattened
// under their parent's label, conversation turns are labeled
// "conversation:<role>", and knowledge-base entries are labeled
// "knowledge_base" (§4.2 "Scoring").
func Flatten(s ContextSnapshot) []Snippet {
	var out []Snippet
	for key, val := range s.API {
		out = append(out, flattenValue(key, val)...)
	}
	for _, t := range s.Conversation {
		out = append(out, Snippet{Source: "conversation:" + t.Role, Text: t.Text})
	}
	for _, kb := range s.KnowledgeBase {
		out = append(out, Snippet{Source: "knowledge_base", Text: kb})
	}
	return out
}

func flattenValue(path string, val any) []Snippet {
	switch v := val.(type) {
	case map[string]any:
		var out []Snippet
		for k, sub := range v {
			out = append(out, flattenValue(path+"."+k, sub)...)
		}
		return out
	case []any:
		var out []Snippet
		for _, item := range v {
			out = append(out, flattenValue(path, item)...)
		}
		return out
	case string:
		return []Snippet{{Source: path, Text: fmt.Sprintf("%s: %s", path, v)}}
	default:
		return []Snippet{{Source: path, Text: fmt.Sprintf("%s: %v", path, v)}}
	}
}

// keyTerms carry double weight in the similarity score (§4.2, stable,
// documented, ASCII lowercase).
var keyTerms = map[string]bool{
	"error": true, "issue": true, "bug": true, "version": true, "update": true,
	"status": true, "count": true, "total": true, "name": true, "id": true,
}

var wordPattern = regexp.MustCompile(`[^\w]+`)

// tokenize lower-cases, strips non-word characters, splits on whitespace,
// and drops tokens of length <= 2.
func tokenize(text string) map[string]bool {
	lower := strings.ToLower(text)
	cleaned := wordPattern.ReplaceAllString(lower, " ")
	toks := make(map[string]bool)
	for _, w := range strings.Fields(cleaned) {
		if len(w) > 2 {
			toks[w] = true
		}
	}
	return toks
}

func weight(w string) float64 {
	if keyTerms[w] {
		return 2
	}
	return 1
}

// similarity computes the weighted Jaccard-like score between a claim's
// token set Q and a snippet's token set C (§4.2 "Scoring").
func similarity(q, c map[string]bool) float64 {
	var intersection, qWeight, cWeight float64
	for w := range q {
		qWeight += weight(w)
		if c[w] {
			intersection += weight(w)
		}
	}
	for w := range c {
		cWeight += weight(w)
	}
	denom := qWeight + cWeight - intersection
	if denom <= 0 {
		return 0
	}
	return intersection / denom
}

// bestMatch finds the snippet with the highest similarity to the claim
// text, returning the score and the winning snippet's source label.
func bestMatch(claimText string, snippets []Snippet) (float64, string) {
	q := tokenize(claimText)
	best, bestSource := 0.0, ""
	for _, s := range snippets {
		c := tokenize(s.Text)
		sim := similarity(q, c)
		if sim > best {
			best, bestSource = sim, s.Source
		}
	}
	return best, bestSource
}
