package pipeline

import "testing"

func TestClauseAssemblerSplitsOnTerminator(t *testing.T) {
	var c clauseAssembler
	if got := c.Feed("All "); got != nil {
		t.Fatalf("expected no clause yet, got %v", got)
	}
	got := c.Feed("systems are healthy. ")
	if len(got) != 1 || got[0] != "All systems are healthy." {
		t.Fatalf("got %v", got)
	}
}

func TestClauseAssemblerMultipleClausesInOneToken(t *testing.T) {
	var c clauseAssembler
	got := c.Feed("Yes. No. Maybe later.")
	want := []string{"Yes.", "No.", "Maybe later."}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("clause %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClauseAssemblerNewlineIsTerminator(t *testing.T) {
	var c clauseAssembler
	got := c.Feed("line one\nline two")
	if len(got) != 1 || got[0] != "line one" {
		t.Fatalf("got %v", got)
	}
	if tail := c.Drain(); tail != "line two" {
		t.Fatalf("Drain() = %q, want %q", tail, "line two")
	}
}

func TestClauseAssemblerDrainReturnsTrailingText(t *testing.T) {
	var c clauseAssembler
	c.Feed("no terminator yet")
	if tail := c.Drain(); tail != "no terminator yet" {
		t.Fatalf("Drain() = %q, want %q", tail, "no terminator yet")
	}
	if tail := c.Drain(); tail != "" {
		t.Fatalf("second Drain() should be empty, got %q", tail)
	}
}

func TestClauseAssemblerScansAcrossTokenBoundaries(t *testing.T) {
	var c clauseAssembler
	tokens := []string{"The ", "weather ", "is ", "nice", ". ", "Enjoy", "!"}
	var all []string
	for _, tok := range tokens {
		all = append(all, c.Feed(tok)...)
	}
	if tail := c.Drain(); tail != "" {
		all = append(all, tail)
	}
	want := []string{"The weather is nice.", "Enjoy!"}
	if len(all) != len(want) {
		t.Fatalf("got %v, want %v", all, want)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Errorf("clause %d = %q, want %q", i, all[i], want[i])
		}
	}
}
