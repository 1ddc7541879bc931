package llmport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corelane/dialogue-engine/internal/metrics"
	"github.com/corelane/dialogue-engine/internal/ports"
)

// AnthropicGenerator streams chat completions from the Anthropic Messages
// API, adapted from the teacher's internal/pipeline/llm_anthropic.go to
// satisfy ports.Generator's channel pair instead of a token callback.
type AnthropicGenerator struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicGenerator creates an Anthropic streaming adapter.
func NewAnthropicGenerator(apiKey, url, model string, maxTokens, poolSize int) *AnthropicGenerator {
	return &AnthropicGenerator{
		apiKey:    apiKey,
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    ports.NewPooledHTTPClient(poolSize, 120*time.Second),
	}
}

func (c *AnthropicGenerator) GenerateStream(ctx context.Context, messages []ports.Message, reqContext map[string]any) (<-chan ports.Token, <-chan error) {
	tokens := make(chan ports.Token, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errc)

		model, _ := reqContext["model"].(string)
		useModel := c.model
		if model != "" {
			useModel = model
		}

		system, userMessage := anthropicSystemAndUser(messages)

		body, err := json.Marshal(anthropicRequest{
			Model:     useModel,
			MaxTokens: c.maxTokens,
			Stream:    true,
			System:    system,
			Messages:  []anthropicMessage{{Role: "user", Content: userMessage}},
		})
		if err != nil {
			errc <- fmt.Errorf("marshal anthropic request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			errc <- fmt.Errorf("create anthropic request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := c.client.Do(req)
		if err != nil {
			metrics.Errors.WithLabelValues("generate", "http").Inc()
			errc <- fmt.Errorf("anthropic request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.Errors.WithLabelValues("generate", "status").Inc()
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			errc <- fmt.Errorf("anthropic status %d: %s", resp.StatusCode, errBody)
			return
		}

		if err := consumeAnthropicStream(ctx, resp.Body, tokens); err != nil {
			errc <- err
		}
	}()

	return tokens, errc
}

func anthropicSystemAndUser(messages []ports.Message) (system, user string) {
	var sys strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			if sys.Len() > 0 {
				sys.WriteString("\n")
			}
			sys.WriteString(m.Text)
		case "user":
			user = m.Text
		case "assistant":
			sys.WriteString("\n\nPrior assistant turn: " + m.Text)
		}
	}
	return sys.String(), user
}

func consumeAnthropicStream(ctx context.Context, body io.Reader, tokens chan<- ports.Token) error {
	scanner := bufio.NewScanner(body)
	var eventType string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if eventType == "message_stop" {
			return nil
		}

		if eventType == "content_block_delta" {
			var delta anthropicDeltaEvent
			if json.Unmarshal([]byte(data), &delta) != nil {
				continue
			}
			if delta.Delta.Type == "thinking_delta" {
				continue
			}
			text := delta.Delta.Text
			if text == "" {
				continue
			}
			select {
			case tokens <- ports.Token{Text: text}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicDeltaEvent struct {
	Delta anthropicDelta `json:"delta"`
}

type anthropicDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}
