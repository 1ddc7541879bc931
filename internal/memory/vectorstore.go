package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corelane/dialogue-engine/internal/metrics"
	"github.com/corelane/dialogue-engine/internal/ports"
)

// VectorStorePort is the write-through memory port referenced in §4.3: it
// receives (conversation_id, user text, assistant text) asynchronously after
// each successful append. Failures are logged and never block the pipeline.
type VectorStorePort interface {
	StoreAsync(ctx context.Context, conversationID, userText, assistantText string)
	RetrieveContext(ctx context.Context, query string) (string, error)
}

// EmbeddingClient generates vector embeddings via Ollama's /api/embed
// endpoint, ported from the teacher's internal/pipeline/embeddings.go.
type EmbeddingClient struct {
	url    string
	model  string
	client *http.Client
}

// NewEmbeddingClient creates an Ollama embedding client.
func NewEmbeddingClient(url, model string, poolSize int) *EmbeddingClient {
	return &EmbeddingClient{url: url, model: model, client: ports.NewPooledHTTPClient(poolSize, 30*time.Second)}
}

func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()

	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())
	return result.Embeddings[0], nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// QdrantClient is a small REST client for Qdrant's collection/points API,
// ported from the teacher's internal/pipeline/qdrant.go.
type QdrantClient struct {
	url    string
	client *http.Client
}

// NewQdrantClient creates a Qdrant REST client.
func NewQdrantClient(url string, poolSize int) *QdrantClient {
	return &QdrantClient{url: url, client: ports.NewPooledHTTPClient(poolSize, 30*time.Second)}
}

func (q *QdrantClient) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	body, err := json.Marshal(qdrantCreateCollection{Vectors: qdrantVectorConfig{Size: vectorSize, Distance: "Cosine"}})
	if err != nil {
		return fmt.Errorf("marshal collection config: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", q.url+"/collections/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusOK {
		return nil
	}
	return fmt.Errorf("create collection status %d", resp.StatusCode)
}

type QdrantPoint struct {
	ID      string                 `json:"id"`
	Vector  []float64              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

func (q *QdrantClient) Upsert(ctx context.Context, collection string, points []QdrantPoint) error {
	body, err := json.Marshal(qdrantUpsertRequest{Points: points})
	if err != nil {
		return fmt.Errorf("marshal upsert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", q.url+"/collections/"+collection+"/points", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upsert status %d", resp.StatusCode)
	}
	return nil
}

type SearchResult struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

func (q *QdrantClient) Search(ctx context.Context, collection string, vector []float64, topK int, scoreThreshold float64) ([]SearchResult, error) {
	body, err := json.Marshal(qdrantSearchRequest{Vector: vector, Limit: topK, ScoreThreshold: scoreThreshold, WithPayload: true})
	if err != nil {
		return nil, fmt.Errorf("marshal search: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", q.url+"/collections/"+collection+"/points/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search status %d", resp.StatusCode)
	}

	var result qdrantSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return result.Result, nil
}

type qdrantCreateCollection struct {
	Vectors qdrantVectorConfig `json:"vectors"`
}

type qdrantVectorConfig struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantUpsertRequest struct {
	Points []QdrantPoint `json:"points"`
}

type qdrantSearchRequest struct {
	Vector         []float64 `json:"vector"`
	Limit          int       `json:"limit"`
	ScoreThreshold float64   `json:"score_threshold"`
	WithPayload    bool      `json:"with_payload"`
}

type qdrantSearchResponse struct {
	Result []SearchResult `json:"result"`
}

// QdrantVectorStore implements VectorStorePort against an embedding model
// plus a Qdrant collection, combining the teacher's CallHistoryClient
// (write-through) and RAGClient (retrieval) into one port.
type QdrantVectorStore struct {
	Embedder       *EmbeddingClient
	Qdrant         *QdrantClient
	Collection     string
	TopK           int
	ScoreThreshold float64
}

// StoreAsync embeds and stores a conversation turn in a background
// goroutine; errors are logged, never propagated (§4.3 "failures are logged
// and never block the pipeline").
func (v *QdrantVectorStore) StoreAsync(ctx context.Context, conversationID, userText, assistantText string) {
	go func() {
		combined := "User: " + userText + "\nAssistant: " + assistantText
		vector, err := v.Embedder.Embed(ctx, combined)
		if err != nil {
			slog.Error("memory write-through embed failed", "error", err, "conversation_id", conversationID)
			return
		}

		point := QdrantPoint{
			ID:     uuid.NewString(),
			Vector: vector,
			Payload: map[string]interface{}{
				"conversation_id": conversationID,
				"user":            userText,
				"assistant":       assistantText,
				"timestamp":       time.Now().UTC().Format(time.RFC3339),
			},
		}
		if err := v.Qdrant.Upsert(ctx, v.Collection, []QdrantPoint{point}); err != nil {
			slog.Error("memory write-through upsert failed", "error", err, "conversation_id", conversationID)
		}
	}()
}

// RetrieveContext embeds the query, searches the knowledge base, and
// returns formatted context for the context snapshot (§6 "Context
// provider"). Empty string, nil error if nothing clears the score threshold.
func (v *QdrantVectorStore) RetrieveContext(ctx context.Context, query string) (string, error) {
	start := time.Now()

	vector, err := v.Embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	results, err := v.Qdrant.Search(ctx, v.Collection, vector, v.TopK, v.ScoreThreshold)
	if err != nil {
		return "", fmt.Errorf("qdrant search: %w", err)
	}

	metrics.RAGDuration.Observe(time.Since(start).Seconds())

	if len(results) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if text, ok := r.Payload["assistant"].(string); ok {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n---\n"), nil
}
