// Package llmport provides concrete ports.Generator adapters. AgentGenerator
// wraps the openai-agents-go SDK (teacher's internal/pipeline/llm_agent.go,
// AgentLLM) but swaps the teacher's callback-based Chat for the channel pair
// ports.Generator.GenerateStream demands, and collapses the teacher's
// two-arg (userMessage, ragContext) split into a single messages slice plus
// a free-form context map, since this engine's context enrichment can
// include more than a RAG snippet (conversation history, claim snapshot).
package llmport

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/corelane/dialogue-engine/internal/ports"
)

// AgentGenerator routes generation requests to a provider registered for an
// engine name, via the openai-agents-go Runner. One AgentGenerator can back
// several engines (e.g. "openai", "ollama-via-agents") sharing the SDK.
type AgentGenerator struct {
	providers map[string]agents.ModelProvider
	models    map[string]string
	fallback  string
	maxTokens int
}

// NewAgentGenerator creates an AgentGenerator with the given fallback engine
// name and per-response token cap.
func NewAgentGenerator(fallback string, maxTokens int) *AgentGenerator {
	return &AgentGenerator{
		providers: make(map[string]agents.ModelProvider),
		models:    make(map[string]string),
		fallback:  fallback,
		maxTokens: maxTokens,
	}
}

// Register adds an SDK provider and default model for the given engine name.
func (a *AgentGenerator) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	a.providers[engine] = provider
	a.models[engine] = defaultModel
}

// Engines returns the names of all registered backends.
func (a *AgentGenerator) Engines() []string {
	names := make([]string, 0, len(a.providers))
	for k := range a.providers {
		names = append(names, k)
	}
	return names
}

// Has reports whether a backend is registered for the given engine name.
func (a *AgentGenerator) Has(engine string) bool {
	_, ok := a.providers[engine]
	return ok
}

// GenerateStream implements ports.Generator for the named engine. The engine
// name and model override are read out of the context map under "engine" and
// "model" keys, mirroring the teacher's (engine, model) parameter pair.
func (a *AgentGenerator) GenerateStream(ctx context.Context, messages []ports.Message, reqContext map[string]any) (<-chan ports.Token, <-chan error) {
	tokens := make(chan ports.Token, 16)
	errc := make(chan error, 1)

	engine, _ := reqContext["engine"].(string)
	model, _ := reqContext["model"].(string)

	go func() {
		defer close(tokens)
		defer close(errc)

		provider, useModel, err := a.resolve(engine, model)
		if err != nil {
			errc <- err
			return
		}

		systemPrompt, userMessage := flattenMessages(messages)

		agent := agents.New("assistant").
			WithInstructions(systemPrompt).
			WithModel(useModel).
			WithModelSettings(modelsettings.ModelSettings{
				MaxTokens: param.NewOpt(int64(a.maxTokens)),
			})

		runner := agents.Runner{Config: agents.RunConfig{
			ModelProvider:   provider,
			MaxTurns:        1,
			TracingDisabled: true,
		}}

		events, runErrCh, err := runner.RunStreamedChan(ctx, agent, userMessage)
		if err != nil {
			errc <- fmt.Errorf("llm stream start: %w", err)
			return
		}

		for ev := range events {
			raw, ok := ev.(agents.RawResponsesStreamEvent)
			if !ok {
				continue
			}
			if raw.Data.Type != "response.output_text.delta" {
				continue
			}
			select {
			case tokens <- ports.Token{Text: raw.Data.Delta}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}

		if streamErr := <-runErrCh; streamErr != nil {
			errc <- fmt.Errorf("llm stream: %w", streamErr)
		}
	}()

	return tokens, errc
}

func (a *AgentGenerator) resolve(engine, model string) (agents.ModelProvider, string, error) {
	provider, ok := a.providers[engine]
	if !ok {
		provider, ok = a.providers[a.fallback]
	}
	if !ok {
		return nil, "", fmt.Errorf("no llm provider for engine %q", engine)
	}

	useModel := model
	if useModel != "" {
		return provider, useModel, nil
	}
	useModel = a.models[engine]
	if useModel == "" {
		useModel = a.models[a.fallback]
	}
	return provider, useModel, nil
}

// flattenMessages collapses a Message slice into (systemPrompt, userTurn):
// the SDK's single-turn Runner takes one instruction string and one input
// string, so system/earlier-assistant turns are folded into the instruction
// block and the final user message is passed as input.
func flattenMessages(messages []ports.Message) (systemPrompt, userMessage string) {
	var sys strings.Builder
	var last string
	for _, m := range messages {
		switch m.Role {
		case "system":
			if sys.Len() > 0 {
				sys.WriteString("\n")
			}
			sys.WriteString(m.Text)
		case "user":
			last = m.Text
		case "assistant":
			sys.WriteString("\n\nPrior assistant turn: " + m.Text)
		}
	}
	return sys.String(), last
}
