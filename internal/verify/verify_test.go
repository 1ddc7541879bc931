package verify

import (
	"context"
	"testing"
)

func TestVerifyNoClaimsIsVerified(t *testing.T) {
	e := New(0)
	res := e.Verify(context.Background(), "Hi there!", ContextSnapshot{})
	if !res.Verified || res.Confidence != 1.0 {
		t.Fatalf("expected trivially verified reply, got %+v", res)
	}
}

func TestVerifySupportedClaim(t *testing.T) {
	e := New(0)
	snapshot := ContextSnapshot{API: map[string]any{"status": "All systems are healthy"}}
	res := e.Verify(context.Background(), "All systems are healthy.", snapshot)
	if !res.Verified {
		t.Fatalf("expected verified claim backed by api.status, got %+v", res)
	}
	if len(res.Citations) != 1 || res.Citations[0].Source != "status" {
		t.Fatalf("expected one citation from status, got %+v", res.Citations)
	}
}

func TestVerifyUnsupportedClaimIsRewritten(t *testing.T) {
	e := New(0)
	res := e.Verify(context.Background(), "There are 999 critical errors.", ContextSnapshot{})
	if res.Verified {
		t.Fatalf("expected unverified claim with no supporting context")
	}
	if res.Rewritten == "" {
		t.Fatalf("expected a rewritten reply with disclaimer")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one warning, got %+v", res.Warnings)
	}
}

func TestVerifySafeGeneralKnowledge(t *testing.T) {
	e := New(0)
	res := e.Verify(context.Background(), "I don't have that information.", ContextSnapshot{})
	if !res.Verified {
		t.Fatalf("expected safe-general-knowledge fallback to verify, got %+v", res)
	}
}

func TestVerifyOpinionClaimsDropped(t *testing.T) {
	claims := ExtractClaims("I think the weather is nice today.")
	if len(claims) != 0 {
		t.Fatalf("opinion sentences must be dropped entirely, got %+v", claims)
	}
}

func TestParseLLMVerdictRoundTrip(t *testing.T) {
	raw := []byte(`{"verified":true,"confidence":0.9,"citations":["status"],"warnings":[]}`)
	res, err := ParseLLMVerdict(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Verified || res.Confidence != 0.9 || len(res.Citations) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParseLLMVerdictMalformed(t *testing.T) {
	if _, err := ParseLLMVerdict([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed verdict")
	}
}
