package main

import (
	"encoding/json"
	"log/slog"
	"os"
)

// tuning holds the engine-tunable numeric knobs of §6's configuration
// table, loaded from a JSON file so they can move without a redeploy,
// mirroring the teacher's gateway.json + defaultTuning/loadTuning split
// (cmd/gateway/main.go).
type tuning struct {
	LLMSystemPrompt string `json:"llm_system_prompt"`
	LLMMaxTokens    int    `json:"llm_max_tokens"`

	ASRPoolSize int `json:"asr_pool_size"`
	LLMPoolSize int `json:"llm_pool_size"`
	TTSPoolSize int `json:"tts_pool_size"`

	MaxLatencyMs      int     `json:"max_latency_ms"`
	SessionTimeoutMs  int     `json:"session_timeout_ms"`
	MinUtteranceBytes int     `json:"min_utterance_bytes"`
	WakePhrases       []string `json:"wake_phrases"`
	InterruptPhrases  []string `json:"interrupt_phrases"`
	WakeSensitivity   float64 `json:"wake_sensitivity"`
	WakeDebounceMs    int     `json:"wake_debounce_ms"`

	VerifyThreshold float64 `json:"verify_threshold"`
	VerifyEnabled   bool    `json:"verify_enabled"`
	VerifyMode      string  `json:"verify_mode"` // "rule" or "llm"

	OpenAIURL      string `json:"openai_url"`
	OpenAIModel    string `json:"openai_model"`
	AnthropicURL   string `json:"anthropic_url"`
	AnthropicModel string `json:"anthropic_model"`

	QdrantCollection     string  `json:"qdrant_collection"`
	RAGTopK              int     `json:"rag_top_k"`
	RAGScoreThreshold    float64 `json:"rag_score_threshold"`
	EmbeddingModel       string  `json:"embedding_model"`
}

// defaultTuning returns the engine's documented §6 defaults (debounce
// ~1s, verify_threshold 0.6, verify_mode "rule", 16kHz/mono/16-bit edge
// format is fixed in internal/audio, not configurable here).
func defaultTuning() tuning {
	return tuning{
		LLMSystemPrompt:   "You are a helpful voice assistant. Keep responses concise and conversational, since they will be spoken aloud.",
		LLMMaxTokens:      1024,
		ASRPoolSize:       50,
		LLMPoolSize:       50,
		TTSPoolSize:       50,
		MaxLatencyMs:      2500,
		SessionTimeoutMs:  5 * 60 * 1000,
		MinUtteranceBytes: 16000, // ~0.5s at 16kHz/16-bit mono
		WakePhrases:       []string{"hey assistant", "ok assistant"},
		InterruptPhrases:  []string{"stop", "cancel", "wait", "never mind"},
		WakeSensitivity:   0.75,
		WakeDebounceMs:    1000,
		VerifyThreshold:   0.6,
		VerifyEnabled:     true,
		VerifyMode:        "rule",
		OpenAIURL:         "https://api.openai.com",
		OpenAIModel:       "gpt-4.1-nano",
		AnthropicURL:      "https://api.anthropic.com",
		AnthropicModel:    "claude-sonnet-4-5",
		QdrantCollection:  "dialogue_turns",
		RAGTopK:           3,
		RAGScoreThreshold: 0.75,
		EmbeddingModel:    "nomic-embed-text",
	}
}

// loadTuning reads engine.json if present, otherwise returns defaults.
func loadTuning(path string) tuning {
	t := defaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no config file, using defaults", "path", path)
		return t
	}
	if err := json.Unmarshal(data, &t); err != nil {
		slog.Warn("bad config file, using defaults", "path", path, "error", err)
		return defaultTuning()
	}
	slog.Info("loaded config", "path", path)
	return t
}
