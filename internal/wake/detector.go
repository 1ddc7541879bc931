// Package wake implements the wake/interrupt detector (C2): a pure,
// text-level scanner that classifies an utterance as wake, interrupt, or
// neither, debounced against rapid repeat triggers (§4.1).
package wake

import (
	"strings"
	"sync"
	"time"
)

// Kind is the classification outcome of Classify.
type Kind string

const (
	KindNone      Kind = "none"
	KindWake      Kind = "wake"
	KindInterrupt Kind = "interrupt"
)

// Result is the outcome of classifying one utterance.
type Result struct {
	Kind       Kind
	Matched    string
	Confidence float64
	// PrefixWords is how many leading words of the classified text the
	// match consumed — for a substring match, the word count up to and
	// including the match; for a fuzzy match, the word count of the phrase
	// itself (since the matched text never appears verbatim). This is the
	// boundary ExtractCommandAfterWake strips from; computing it here means
	// extraction never needs to re-search a garbled utterance for a phrase
	// that, by construction, isn't actually in it.
	PrefixWords int
}

// fillerWords are stripped from the start of a command tail after a wake
// phrase is removed (§4.1 extract_command_after_wake).
var fillerWords = map[string]bool{
	"please": true, "can": true, "you": true, "could": true, "would": true,
}

// Config configures one detector instance.
type Config struct {
	WakePhrases      []string
	InterruptPhrases []string
	Sensitivity      float64       // τ in [0,1]
	Debounce         time.Duration // Δ, default ~1s
}

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = time.Second

// Detector classifies transcripts against configured wake/interrupt phrase
// sets. It is safe for concurrent use by multiple turns of the same session
// (debounce state is shared per detector instance, one per session).
type Detector struct {
	cfg Config

	mu           sync.Mutex
	lastPositive time.Time
}

// New creates a detector. Phrases are lower-cased once up front.
func New(cfg Config) *Detector {
	cfg.WakePhrases = lowerAll(cfg.WakePhrases)
	cfg.InterruptPhrases = lowerAll(cfg.InterruptPhrases)
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Detector{cfg: cfg}
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// Classify scans text for an interrupt phrase first, then a wake phrase
// (§4.1 "Interrupt has priority over wake"). A positive result within the
// debounce window of a previous positive is suppressed (returns KindNone).
func (d *Detector) Classify(text string) Result {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return Result{Kind: KindNone}
	}
	words := strings.Fields(norm)

	if r, ok := matchPhrases(norm, words, d.cfg.InterruptPhrases, d.cfg.Sensitivity); ok {
		return d.gate(Result{Kind: KindInterrupt, Matched: r.Matched, Confidence: r.Confidence, PrefixWords: r.PrefixWords})
	}
	if r, ok := matchPhrases(norm, words, d.cfg.WakePhrases, d.cfg.Sensitivity); ok {
		return d.gate(Result{Kind: KindWake, Matched: r.Matched, Confidence: r.Confidence, PrefixWords: r.PrefixWords})
	}
	return Result{Kind: KindNone}
}

// gate enforces the debounce window. Must be called with the classification
// already decided; it only decides whether to suppress it.
func (d *Detector) gate(r Result) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if !d.lastPositive.IsZero() && now.Sub(d.lastPositive) < d.cfg.Debounce {
		return Result{Kind: KindNone}
	}
	d.lastPositive = now
	return r
}

// matchPhrases implements one scan pass over a phrase set: substring match
// first (confidence 1.0), else a Levenshtein-similarity match against the
// leading |phrase|-word prefix of text. Either way it reports how many
// leading words of the utterance the match consumed, since a fuzzy match's
// phrase text never appears verbatim in the garbled utterance it matched.
func matchPhrases(norm string, words []string, phrases []string, tau float64) (Result, bool) {
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		if idx := strings.Index(norm, phrase); idx >= 0 {
			consumed := len(strings.Fields(norm[:idx+len(phrase)]))
			return Result{Matched: phrase, Confidence: 1.0, PrefixWords: consumed}, true
		}
		phraseWords := strings.Fields(phrase)
		n := len(phraseWords)
		if n == 0 || n > len(words) {
			continue
		}
		sim := similarity(phraseWords, words[:n])
		if sim >= tau {
			return Result{Matched: phrase, Confidence: sim, PrefixWords: n}, true
		}
	}
	return Result{}, false
}

// ExtractCommandAfterWake strips the leading prefixWords words of text (the
// wake phrase the detector matched — verbatim for a substring match, a
// stand-in boundary computed from the phrase's own word count for a fuzzy
// one) plus any leading filler words, returning the remaining command text
// (possibly empty, meaning the wake word alone was spoken).
func ExtractCommandAfterWake(text string, prefixWords int) string {
	words := strings.Fields(text)
	if prefixWords > len(words) {
		prefixWords = len(words)
	}
	i := prefixWords
	for i < len(words) && fillerWords[strings.ToLower(strings.Trim(words[i], ".,!?"))] {
		i++
	}
	return strings.TrimSpace(strings.Join(words[i:], " "))
}
