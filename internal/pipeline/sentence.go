package pipeline

import "strings"

// clauseAssembler implements the turn engine's sentence-level streaming step
// (turn protocol step 6, `^(.*?[.!?\n])\s*`): it accumulates generator tokens
// and releases each clause in the order its terminator arrives, so synthesis
// can start on sentence 1 while the generator is still producing sentence 2.
//
// A token can complete more than one clause at once (a token is not
// guaranteed to align with sentence boundaries), so Feed returns a slice
// rather than a single string; callers must dispatch them in order to keep
// the turn's sentence-N-before-sentence-(N+1) serialization. The assembler
// tracks how much of the buffer it has already scanned so a long-running
// turn scans each byte of generated text once, not once per token received.
type clauseAssembler struct {
	buf     strings.Builder
	scanned int // bytes at the front of buf already confirmed terminator-free
}

var clauseTerminators = map[byte]bool{'.': true, '!': true, '?': true, '\n': true}

// Feed appends token to the buffer and returns every clause that became
// complete as a result, trimmed of surrounding whitespace, in order. Returns
// nil if token did not complete a clause.
func (c *clauseAssembler) Feed(token string) []string {
	c.buf.WriteString(token)
	text := c.buf.String()

	var clauses []string
	segStart := 0
	for i := c.scanned; i < len(text); i++ {
		if !clauseTerminators[text[i]] {
			continue
		}
		end := trailingBlankEnd(text, i+1)
		if clause := strings.TrimSpace(text[segStart:end]); clause != "" {
			clauses = append(clauses, clause)
		}
		segStart = end
		i = end - 1
	}

	remainder := text[segStart:]
	c.buf.Reset()
	c.buf.WriteString(remainder)
	c.scanned = len(remainder)
	return clauses
}

// Drain returns whatever text remains unterminated once the generator has
// finished (turn protocol step 7's tail flush) — no trailing terminator is
// required for this final clause.
func (c *clauseAssembler) Drain() string {
	tail := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	c.scanned = 0
	return tail
}

// trailingBlankEnd returns the first index at or after from that is not a
// run of horizontal whitespace, consuming the `\s*` following a terminator.
func trailingBlankEnd(text string, from int) int {
	for from < len(text) && isHorizontalBlank(text[from]) {
		from++
	}
	return from
}

func isHorizontalBlank(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}
