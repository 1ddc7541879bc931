package llmport

import (
	"context"
	"fmt"
	"strings"

	"github.com/corelane/dialogue-engine/internal/ports"
	"github.com/corelane/dialogue-engine/internal/verify"
)

// Judge implements verify.JudgeClient (§4.2 "Optional stronger mode") on top
// of any ports.Generator, prompting it to emit a JSON verdict and decoding
// the result with verify.ParseLLMVerdict. No example in the pack implements
// an LLM-as-judge verifier directly; this follows the same prompt-then-parse
// shape as the teacher's classify.go sidecar call, generalized to a
// Generator port instead of a dedicated HTTP client.
type Judge struct {
	Generator ports.Generator
	Engine    string
	Model     string
}

// NewJudge wraps a Generator as a structured verdict judge.
func NewJudge(generator ports.Generator, engine, model string) *Judge {
	return &Judge{Generator: generator, Engine: engine, Model: model}
}

const judgeInstructions = `You verify a spoken assistant's reply against the supplied context snapshot.
Respond with ONLY a JSON object matching this schema, no prose:
{"verified": bool, "confidence": number between 0 and 1, "citations": [string], "warnings": [string], "rewritten": string (empty unless verified is false)}
A claim is verified if it is supported by the context snapshot or is safe general knowledge. If not all claims are verified, set verified false and rewritten to the reply with a short disclaimer appended.`

func (j *Judge) Judge(ctx context.Context, reply string, snapshot verify.ContextSnapshot) (verify.Result, error) {
	snippets := verify.Flatten(snapshot)
	var ctxBuf strings.Builder
	for _, s := range snippets {
		ctxBuf.WriteString("- [" + s.Source + "] " + s.Text + "\n")
	}

	messages := []ports.Message{
		{Role: "system", Text: judgeInstructions},
		{Role: "user", Text: fmt.Sprintf("Reply to verify:\n%s\n\nContext snapshot:\n%s", reply, ctxBuf.String())},
	}

	tokens, errc := j.Generator.GenerateStream(ctx, messages, map[string]any{"engine": j.Engine, "model": j.Model})

	var out strings.Builder
	for t := range tokens {
		out.WriteString(t.Text)
	}
	if err := <-errc; err != nil {
		return verify.Result{}, fmt.Errorf("judge generation: %w", err)
	}

	return verify.ParseLLMVerdict([]byte(strings.TrimSpace(out.String())))
}
