package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corelane/dialogue-engine/internal/models"
)

// routeDeps collects the HTTP surface's dependencies, mirroring the
// teacher's cmd/gateway/routes.go deps struct.
type routeDeps struct {
	wsHandler   http.Handler
	ollamaURL   string
	ollamaModel string
}

// registerRoutes wires the engine's HTTP endpoints to the shared mux:
// the WebSocket transport (§1 reference transport), a liveness probe, a
// Prometheus scrape endpoint for the metrics declared in internal/metrics,
// and a models endpoint exposing which LLMs Ollama has installed/loaded
// (observability only — selection happens via the "engine"/model request
// context, not this endpoint).
func registerRoutes(mux *http.ServeMux, d routeDeps) {
	mux.Handle("/ws", d.wsHandler)
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/models", d.handleModels)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d routeDeps) handleModels(w http.ResponseWriter, r *http.Request) {
	llmModels, err := models.ListLLMModels(r.Context(), d.ollamaURL)
	if err != nil {
		slog.Error("list llm models", "error", err)
		llmModels = []string{d.ollamaModel}
	}
	loaded, _ := models.ListLoadedLLMs(r.Context(), d.ollamaURL)
	loadedNames := make([]string, 0, len(loaded))
	for _, m := range loaded {
		loadedNames = append(loadedNames, m.Name)
	}

	resp := map[string]any{
		"active": d.ollamaModel,
		"models": llmModels,
		"loaded": loadedNames,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
