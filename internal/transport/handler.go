// Package transport provides a reference WebSocket adapter over the turn
// engine. It is intentionally outside the engine's core: §1 treats the
// transport carrying audio frames and control messages as an external
// collaborator, not part of the orchestrator itself. This package exists to
// demonstrate the C6/C7/C8 port boundary end to end, grounded in the
// teacher's internal/ws.Handler (one goroutine reading frames, one draining
// the outbound event stream, JSON control frames plus binary audio frames).
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/corelane/dialogue-engine/internal/events"
	"github.com/corelane/dialogue-engine/internal/pipeline"
	"github.com/corelane/dialogue-engine/internal/session"
	"github.com/corelane/dialogue-engine/internal/tracestore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig wires the shared engine collaborators for every connection.
type HandlerConfig struct {
	Engine   *pipeline.Engine
	Sessions *session.Store

	// TraceStore is optional; nil disables per-session trace rows.
	TraceStore *tracestore.Store
}

// Handler upgrades HTTP connections to WebSocket and runs one session per
// connection.
type Handler struct {
	cfg HandlerConfig
}

// NewHandler creates a WebSocket handler bound to the given engine wiring.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{cfg: cfg}
}

// clientAction is a text-frame control message from the client.
type clientAction struct {
	Action     string `json:"action"` // "audio_end", "interrupt", "transcript"
	Text       string `json:"text,omitempty"`
	IsFinal    bool   `json:"is_final,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// wireEvent is the JSON shape sent for every non-audio-chunk event. Audio
// chunks are sent as a raw binary frame instead, matching the teacher's
// split between conn.WriteMessage(BinaryMessage, ...) for audio and
// TextMessage for everything else.
type wireEvent struct {
	Kind    events.Kind `json:"kind"`
	Seq     uint64      `json:"seq"`
	Payload any         `json:"payload,omitempty"`
}

// ServeHTTP upgrades the connection and runs the session until the client
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	h.runSession(r.Context(), conn, r.URL.Query().Get("user_id"))
}

func (h *Handler) runSession(ctx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := h.cfg.Sessions.Create(userID)
	defer h.cfg.Sessions.End(s.ID)

	if h.cfg.TraceStore != nil {
		metadata, _ := json.Marshal(map[string]string{"user_id": userID})
		if err := h.cfg.TraceStore.CreateConnection(s.ID, string(metadata)); err != nil {
			slog.Warn("trace connection create failed", "session_id", s.ID, "error", err)
		} else {
			tracer := tracestore.NewTracer(h.cfg.TraceStore, s.ID)
			s.Tracer = tracer
			defer func() {
				tracer.Close()
				if err := h.cfg.TraceStore.EndConnection(s.ID); err != nil {
					slog.Warn("trace connection end failed", "session_id", s.ID, "error", err)
				}
			}()
		}
	}

	slog.Info("session started", "session_id", s.ID, "conversation_id", s.ConversationID)
	s.Bus.Publish(events.KindSessionCreated, events.SessionCreatedPayload{
		SessionID: s.ID, ConversationID: s.ConversationID,
	})

	go h.drainEvents(ctx, conn, s)

	h.readLoop(ctx, conn, s)
	slog.Info("session ended", "session_id", s.ID)
}

// readLoop reads frames off the wire until the connection closes. Binary
// frames are raw PCM appended to the intake buffer (C6 on_audio_chunk);
// text frames are JSON control actions.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, s *session.Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			h.cfg.Engine.HandleAudioChunk(s, data)
		case websocket.TextMessage:
			h.handleAction(ctx, s, data)
		}
	}
}

func (h *Handler) handleAction(ctx context.Context, s *session.Session, data []byte) {
	var act clientAction
	if err := json.Unmarshal(data, &act); err != nil {
		slog.Warn("malformed control frame", "session_id", s.ID, "error", err)
		return
	}
	switch act.Action {
	case "audio_end":
		h.cfg.Engine.HandleAudioEnd(ctx, s)
	case "transcript":
		h.cfg.Engine.HandleTranscript(ctx, s, act.Text, act.IsFinal)
	case "interrupt":
		h.cfg.Engine.Interrupt(s, events.ReasonUser)
	default:
		slog.Warn("unknown control action", "session_id", s.ID, "action", act.Action)
	}
}

// drainEvents is the bus's sole consumer: it serializes every event onto the
// wire, audio chunks as a binary frame and everything else as JSON text,
// preserving the bus's strict ordering (§4.6).
func (h *Handler) drainEvents(ctx context.Context, conn *websocket.Conn, s *session.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.Bus.Events():
			if !ok {
				return
			}
			if chunk, isAudio := ev.Payload.(events.SynthesisChunkPayload); isAudio {
				if err := conn.WriteMessage(websocket.BinaryMessage, chunk.Audio); err != nil {
					slog.Error("write audio frame", "session_id", s.ID, "error", err)
					return
				}
				continue
			}
			out := wireEvent{Kind: ev.Kind, Seq: ev.Seq, Payload: ev.Payload}
			payload, err := json.Marshal(out)
			if err != nil {
				slog.Error("marshal event", "session_id", s.ID, "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Error("write event frame", "session_id", s.ID, "error", err)
				return
			}
		}
	}
}
