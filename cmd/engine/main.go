// Command engine wires the voice-dialogue orchestration engine's
// collaborators (capability ports, session store, conversation memory,
// verification, event multiplexer, pipeline engine) and exposes the
// reference WebSocket transport over them. This is example wiring, not part
// of the engine's core (§1): a real deployment supplies its own transport,
// configuration, and capability port adapters.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/corelane/dialogue-engine/internal/env"
	"github.com/corelane/dialogue-engine/internal/llmport"
	"github.com/corelane/dialogue-engine/internal/memory"
	"github.com/corelane/dialogue-engine/internal/metrics"
	"github.com/corelane/dialogue-engine/internal/models"
	"github.com/corelane/dialogue-engine/internal/pipeline"
	"github.com/corelane/dialogue-engine/internal/ports"
	"github.com/corelane/dialogue-engine/internal/session"
	"github.com/corelane/dialogue-engine/internal/tracestore"
	"github.com/corelane/dialogue-engine/internal/transport"
	"github.com/corelane/dialogue-engine/internal/verify"
	"github.com/corelane/dialogue-engine/internal/wake"
)

// sessionBusSize sizes each session's event buffer (events.NewBus);
// publishing still blocks once full, so this only smooths bursts (§4.6).
const sessionBusSize = 32

// reapInterval is how often the session store's stale-session reaper runs.
const reapInterval = 30 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	t := loadTuning(env.Str("ENGINE_CONFIG", "engine.json"))

	port := env.Str("ENGINE_PORT", "8000")
	ollamaURL := env.Str("OLLAMA_URL", "http://localhost:11434")
	ollamaModel := env.Str("OLLAMA_MODEL", "llama3.2:3b")
	whisperURL := env.Str("WHISPER_SERVER_URL", "")
	whisperReference := env.Str("WHISPER_REFERENCE_TRANSCRIPT", "")
	piperURL := env.Str("PIPER_URL", "")
	piperVoice := env.Str("PIPER_VOICE", "en_US-lessac-medium")
	openaiAPIKey := env.Str("OPENAI_API_KEY", "")
	anthropicAPIKey := env.Str("ANTHROPIC_API_KEY", "")
	qdrantURL := env.Str("QDRANT_URL", "")
	postgresURL := env.Str("POSTGRES_URL", "")

	generator := initGenerator(ollamaURL, ollamaModel, openaiAPIKey, anthropicAPIKey, t)

	asrGuard := ports.NewGuard("transcribe", 5, 10)
	transcriber := ports.Transcriber(unconfiguredTranscriber{})
	if whisperURL != "" {
		transcriber = &ports.RetryingTranscriber{
			Inner: NewWhisperTranscriber(whisperURL, t.ASRPoolSize, whisperReference),
			Guard: asrGuard,
		}
	}

	ttsGuard := ports.NewGuard("synthesize", 5, 10)
	synthesizer := ports.Synthesizer(unconfiguredSynthesizer{})
	if piperURL != "" {
		synthesizer = &ports.RetryingSynthesizer{
			Inner: NewPiperSynthesizer(piperURL, piperVoice, t.TTSPoolSize),
			Guard: ttsGuard,
		}
	}

	llmGuard := ports.NewGuard("generate", 10, 20)
	guardedGenerator := &ports.GuardedGenerator{Inner: generator, Guard: llmGuard}

	verifyEngine := verify.New(t.VerifyThreshold)
	verifyEngine.Enabled = t.VerifyEnabled
	if t.VerifyMode == string(verify.ModeLLM) {
		verifyEngine.Mode = verify.ModeLLM
		verifyEngine.Judge = llmport.NewJudge(guardedGenerator, "ollama", ollamaModel)
	}

	var vectorStore memory.VectorStorePort
	if qdrantURL != "" {
		embedder := memory.NewEmbeddingClient(ollamaURL, t.EmbeddingModel, t.LLMPoolSize)
		qdrant := memory.NewQdrantClient(qdrantURL, t.LLMPoolSize)
		if err := qdrant.EnsureCollection(context.Background(), t.QdrantCollection, 768); err != nil {
			slog.Warn("qdrant collection setup failed, write-through memory disabled", "error", err)
		} else {
			vectorStore = &memory.QdrantVectorStore{
				Embedder:       embedder,
				Qdrant:         qdrant,
				Collection:     t.QdrantCollection,
				TopK:           t.RAGTopK,
				ScoreThreshold: t.RAGScoreThreshold,
			}
		}
	}

	var traceStore *tracestore.Store
	if postgresURL != "" {
		var err error
		traceStore, err = tracestore.Open(postgresURL)
		if err != nil {
			slog.Error("trace store open failed", "error", err)
		} else {
			slog.Info("tracing enabled", "postgres", postgresURL)
		}
	}

	sessions := session.New(sessionBusSize)
	sessions.WakeFactory = func() *wake.Detector {
		return wake.New(wake.Config{
			WakePhrases:      t.WakePhrases,
			InterruptPhrases: t.InterruptPhrases,
			Sensitivity:      t.WakeSensitivity,
			Debounce:         time.Duration(t.WakeDebounceMs) * time.Millisecond,
		})
	}

	conversations := memory.NewStore()

	engineCfg := pipeline.Config{
		Transcriber:       transcriber,
		Generator:         guardedGenerator,
		Synthesizer:       synthesizer,
		Verify:            verifyEngine,
		Sessions:          sessions,
		Conversations:     conversations,
		VectorStore:       vectorStore,
		SystemPrompt:      t.LLMSystemPrompt,
		LLMEngine:         "ollama",
		LLMModel:          ollamaModel,
		MinUtteranceBytes: t.MinUtteranceBytes,
	}
	turnEngine := pipeline.New(engineCfg)

	go reapLoop(sessions, time.Duration(t.SessionTimeoutMs)*time.Millisecond)

	wsHandler := transport.NewHandler(transport.HandlerConfig{
		Engine:     turnEngine,
		Sessions:   sessions,
		TraceStore: traceStore,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, routeDeps{
		wsHandler:   wsHandler,
		ollamaURL:   ollamaURL,
		ollamaModel: ollamaModel,
	})

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv, ollamaURL, traceStore)

	slog.Info("engine starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("engine stopped")
}

// initGenerator wires the Generation port (C1) over whichever backends have
// credentials configured, dispatched by engine name through the generic
// ports.Router (§10 domain stack), mirroring the teacher's initLLM but
// routing at the top level instead of inside one provider-registry type.
func initGenerator(ollamaURL, ollamaModel, openaiAPIKey, anthropicAPIKey string, t tuning) ports.Generator {
	backends := map[string]ports.Generator{
		"ollama": llmport.NewOllamaGenerator(ollamaURL, ollamaModel, t.LLMMaxTokens, t.LLMPoolSize),
	}

	if openaiAPIKey != "" {
		agentGen := llmport.NewAgentGenerator("openai", t.LLMMaxTokens)
		agentGen.Register("openai", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(t.OpenAIURL + "/v1/"),
			APIKey:       param.NewOpt(openaiAPIKey),
			UseResponses: param.NewOpt(true),
		}), t.OpenAIModel)
		backends["openai"] = agentGen
	}
	if anthropicAPIKey != "" {
		backends["anthropic"] = llmport.NewAnthropicGenerator(anthropicAPIKey, t.AnthropicURL, t.AnthropicModel, t.LLMMaxTokens, t.LLMPoolSize)
	}

	router := ports.NewRouter(backends, "ollama")
	return &routedGenerator{router: router}
}

// routedGenerator dispatches GenerateStream to the backend named by the
// per-call context's "engine" key, exercising the generic ports.Router at
// the granularity of whole provider selection (ollama/openai/anthropic),
// distinct from AgentGenerator's own model-name routing within one provider.
type routedGenerator struct {
	router *ports.Router[ports.Generator]
}

func (r *routedGenerator) GenerateStream(ctx context.Context, messages []ports.Message, reqContext map[string]any) (<-chan ports.Token, <-chan error) {
	engine, _ := reqContext["engine"].(string)
	backend, err := r.router.Route(engine)
	if err != nil {
		tokens := make(chan ports.Token)
		errc := make(chan error, 1)
		close(tokens)
		errc <- err
		return tokens, errc
	}
	return backend.GenerateStream(ctx, messages, reqContext)
}

// unconfiguredTranscriber/unconfiguredSynthesizer surface a clear
// transcription_failed/synthesis_failed error instead of a nil-interface
// panic when a deployment omits WHISPER_SERVER_URL/PIPER_URL — the engine
// still starts (capability ports are external collaborators per §1), but
// turns touching the missing capability fail loudly per §7's error model.
type unconfiguredTranscriber struct{}

func (unconfiguredTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return "", fmt.Errorf("transcription port not configured: set WHISPER_SERVER_URL")
}

type unconfiguredSynthesizer struct{}

func (unconfiguredSynthesizer) SynthesizeStream(ctx context.Context, text string, onChunk func(ports.AudioChunk) error) error {
	return fmt.Errorf("synthesis port not configured: set PIPER_URL")
}

func reapLoop(sessions *session.Store, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for range ticker.C {
		reaped := sessions.Reap(timeout)
		if len(reaped) > 0 {
			slog.Info("reaped stale sessions", "count", len(reaped))
		}
		metrics.SessionsActive.Set(float64(sessions.Count()))
	}
}

func awaitShutdown(srv *http.Server, ollamaURL string, traceStore *tracestore.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := models.UnloadAllLLMs(ctx, ollamaURL); err != nil {
		slog.Warn("ollama unload", "error", err)
	}
	if traceStore != nil {
		if err := traceStore.Close(); err != nil {
			slog.Warn("trace store close", "error", err)
		}
	}
	srv.Shutdown(ctx)
}
