package llmport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corelane/dialogue-engine/internal/metrics"
	"github.com/corelane/dialogue-engine/internal/ports"
)

// OllamaGenerator streams chat completions from Ollama's NDJSON /api/chat
// endpoint, adapted from the teacher's OllamaLLMClient.
type OllamaGenerator struct {
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOllamaGenerator creates an Ollama streaming adapter.
func NewOllamaGenerator(url, model string, maxTokens, poolSize int) *OllamaGenerator {
	return &OllamaGenerator{
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    ports.NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

func (c *OllamaGenerator) GenerateStream(ctx context.Context, messages []ports.Message, reqContext map[string]any) (<-chan ports.Token, <-chan error) {
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

		reqBody := ollamaRequest{
			Model:    useModel,
			Stream:   true,
			Options:  ollamaOptions{NumPredict: c.maxTokens},
			Messages: toOllamaMessages(messages),
		}

		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			errc <- fmt.Errorf("marshal ollama request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/chat", bytes.NewReader(bodyBytes))
		if err != nil {
			errc <- fmt.Errorf("create ollama request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			metrics.Errors.WithLabelValues("generate", "http").Inc()
			errc <- fmt.Errorf("ollama request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.Errors.WithLabelValues("generate", "status").Inc()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			errc <- fmt.Errorf("ollama status %d: %s", resp.StatusCode, body)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			var chunk ollamaStreamChunk
			if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
				continue
			}
			if chunk.Done {
				return
			}
			if chunk.Message.Content == "" {
				continue
			}
			select {
			case tokens <- ports.Token{Text: chunk.Message.Content}:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- err
		}
	}()

	return tokens, errc
}

func toOllamaMessages(messages []ports.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, ollamaMessage{Role: m.Role, Content: m.Text})
	}
	return out
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
