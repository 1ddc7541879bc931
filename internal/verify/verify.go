package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// matchThreshold is the minimum similarity for a claim to be considered
// directly supported by a snippet (§4.2, "If best_sim >= 0.5").
const matchThreshold = 0.5

// safeConfidence is the confidence assigned to claims accepted via the
// safe-general-knowledge fallback.
const safeConfidence = 0.7

// unverifiedConfidence is the confidence assigned to claims that clear
// neither the similarity threshold nor the safe-knowledge fallback.
const unverifiedConfidence = 0.2

// disclaimer is appended to a reply whose verdict is unverified.
const disclaimer = " Some of this information could not be corroborated against available sources and may be inaccurate."

// Citation documents one source backing a verified claim (§3 "Citation").
type Citation struct {
	Source   string
	Verified bool
	Snippet  string
	Type     ClaimType
}

// Result is the full output of one verification call (§4.2).
type Result struct {
	Verified   bool
	Confidence float64
	Claims     []Claim
	Citations  []Citation
	Warnings   []string
	Rewritten  string // empty unless Verified is false
}

// Mode selects the verification strategy.
type Mode string

const (
	ModeRule Mode = "rule"
	ModeLLM  Mode = "llm"
)

// JudgeClient is the optional structured-verdict port used in "llm" mode
// (§4.2 "Optional stronger mode"). Implementations wrap a Generation port
// configured to emit a JSON verdict.
type JudgeClient interface {
	Judge(ctx context.Context, reply string, snapshot ContextSnapshot) (Result, error)
}

// Engine is the verification engine (C3).
type Engine struct {
	Threshold float64 // τ_verify, default 0.6
	Mode      Mode
	Judge     JudgeClient

	// Enabled gates C3 entirely (§6 config table, "verify_enabled: If
	// false, all replies bypass C3"). Defaults to true via New.
	Enabled bool
}

const defaultThreshold = 0.6

// New creates a rule-based, enabled verification engine with the given
// threshold. A zero threshold uses the documented default of 0.6.
func New(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Engine{Threshold: threshold, Mode: ModeRule, Enabled: true}
}

// Verify judges reply R against snapshot S. If disabled (verify_enabled =
// false), every reply passes through unverified-checking entirely. In
// ModeLLM it first attempts the structured judge call; any failure
// (malformed response, transport error, timeout) falls back to the
// deterministic rule-based algorithm, which is always the default and the
// one on the critical latency path.
func (e *Engine) Verify(ctx context.Context, reply string, snapshot ContextSnapshot) Result {
	if !e.Enabled {
		return Result{Verified: true, Confidence: 1.0}
	}
	if e.Mode == ModeLLM && e.Judge != nil {
		if res, err := e.Judge.Judge(ctx, reply, snapshot); err == nil {
			return res
		} else {
			slog.Warn("llm verification failed, falling back to rule-based", "error", err)
		}
	}
	return e.verifyRuleBased(reply, snapshot)
}

func (e *Engine) verifyRuleBased(reply string, snapshot ContextSnapshot) Result {
	claims := ExtractClaims(reply)
	if len(claims) == 0 {
		return Result{Verified: true, Confidence: 1.0}
	}

	snippets := Flatten(snapshot)
	scored := make([]Claim, len(claims))
	verifiedCount := 0

	for i, c := range claims {
		scored[i] = scoreClaim(c, snippets)
		if scored[i].Verified {
			verifiedCount++
		}
	}

	overall := float64(verifiedCount) / float64(len(scored))
	verified := overall >= e.Threshold

	res := Result{
		Verified:   verified,
		Confidence: overall,
		Claims:     scored,
		Citations:  citationsFor(scored),
		Warnings:   warningsFor(scored),
	}
	if !verified {
		res.Rewritten = reply + disclaimer
	}
	return res
}

func scoreClaim(c Claim, snippets []Snippet) Claim {
	bestSim, bestSource := bestMatch(c.Text, snippets)
	if bestSim >= matchThreshold {
		c.Verified = true
		c.Confidence = bestSim
		c.Source = bestSource
		return c
	}
	if isSafeGeneralKnowledge(c.Text) {
		c.Verified = true
		c.Confidence = safeConfidence
		c.Source = "general_knowledge"
		return c
	}
	c.Verified = false
	c.Confidence = unverifiedConfidence
	return c
}

// citationsFor returns citations unique by source over verified claims
// (§4.2 "Citations are unique-by-source over verified claims").
func citationsFor(claims []Claim) []Citation {
	seen := make(map[string]bool)
	var out []Citation
	for _, c := range claims {
		if !c.Verified || seen[c.Source] {
			continue
		}
		seen[c.Source] = true
		out = append(out, Citation{
			Source:   c.Source,
			Verified: true,
			Snippet:  truncate(c.Text, 200),
			Type:     c.Type,
		})
	}
	return out
}

const warningTruncateLen = 50

func warningsFor(claims []Claim) []string {
	var warnings []string
	for _, c := range claims {
		if !c.Verified {
			warnings = append(warnings, truncate(c.Text, warningTruncateLen))
		}
	}
	return warnings
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}

// llmVerdict is the JSON schema a structured judge call is prompted to emit.
type llmVerdict struct {
	Verified   bool     `json:"verified"`
	Confidence float64  `json:"confidence"`
	Citations  []string `json:"citations"`
	Warnings   []string `json:"warnings"`
	Rewritten  string   `json:"rewritten,omitempty"`
}

// ParseLLMVerdict decodes a judge's raw JSON response into a Result. It is
// exported so concrete JudgeClient implementations (internal/llmport) can
// share the same strict decoding and error-on-malformed behavior that
// triggers the rule-based fallback.
func ParseLLMVerdict(raw []byte) (Result, error) {
	var v llmVerdict
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return Result{}, fmt.Errorf("malformed verdict: %w", err)
	}
	citations := make([]Citation, len(v.Citations))
	for i, c := range v.Citations {
		citations[i] = Citation{Source: c, Verified: true}
	}
	return Result{
		Verified:   v.Verified,
		Confidence: v.Confidence,
		Citations:  citations,
		Warnings:   v.Warnings,
		Rewritten:  v.Rewritten,
	}, nil
}
