// Package pipeline implements the Pipeline Engine (C7, §4.5) — the turn
// state machine driving one session's audio/text exchange through
// transcription, the wake/interrupt gate, sentence-pipelined generation and
// synthesis, and verification. Grounded in the teacher's
// internal/pipeline/pipeline.go (the ASR→LLM→TTS sentence-pipelining
// producer/consumer loop) and sentence.go (sentence-boundary buffering),
// generalized from a callback-driven call-center pipeline into the
// channel-based, response-id-scoped turn protocol this engine requires.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/corelane/dialogue-engine/internal/audio"
	"github.com/corelane/dialogue-engine/internal/events"
	"github.com/corelane/dialogue-engine/internal/memory"
	"github.com/corelane/dialogue-engine/internal/metrics"
	"github.com/corelane/dialogue-engine/internal/ports"
	"github.com/corelane/dialogue-engine/internal/prompts"
	"github.com/corelane/dialogue-engine/internal/session"
	"github.com/corelane/dialogue-engine/internal/verify"
	"github.com/corelane/dialogue-engine/internal/wake"
)

const (
	// transcriptionTimeout and synthesisTimeout are the hard per-call ceilings
	// of §5 ("transcription and synthesis ≈ 30 s").
	transcriptionTimeout = 30 * time.Second
	synthesisTimeout     = 30 * time.Second
	// generationTimeout is the hard ceiling of §5 ("generation ≈ 60 s").
	generationTimeout = 60 * time.Second
)

// ContextProvider returns a read-only snapshot of cached external-API data
// for the current turn (§6 "Context provider"). The engine treats each
// returned snapshot as immutable and never awaits a refresh.
type ContextProvider func(ctx context.Context) map[string]any

// Config wires the engine's collaborators. The ports, Verify, Sessions and
// Conversations are required; VectorStore and ContextProvider are optional,
// and an empty SystemPrompt or a non-positive MinUtteranceBytes falls back to
// prompts.DefaultSystem or audio.MinUtteranceBytes.
type Config struct {
	Transcriber ports.Transcriber
	Generator   ports.Generator
	Synthesizer ports.Synthesizer

	Verify *verify.Engine

	Sessions      *session.Store
	Conversations *memory.Store
	VectorStore   memory.VectorStorePort // optional; nil disables write-through + RAG

	SystemPrompt string
	LLMEngine    string
	LLMModel     string

	MinUtteranceBytes int
	ContextProvider   ContextProvider
}

// Engine is the C7 turn driver. One Engine instance is shared by every
// session; per-turn state lives on the session and conversation, not here.
type Engine struct {
	cfg Config
}

// New creates a turn engine from the given wiring.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// HandleAudioChunk implements C6 on_audio_chunk.
func (e *Engine) HandleAudioChunk(s *session.Session, frame []byte) {
	s.AppendAudio(frame)
}

// HandleAudioEnd implements C6 on_audio_end: takes the buffer, discards it
// if too short, otherwise begins a turn from the transcription port.
func (e *Engine) HandleAudioEnd(ctx context.Context, s *session.Session) {
	buf := s.TakeAudio()
	minBytes := e.cfg.MinUtteranceBytes
	if minBytes <= 0 {
		minBytes = audio.MinUtteranceBytes
	}
	if len(buf) < minBytes {
		s.Transition(session.StateIdle)
		return
	}

	s.Transition(session.StateProcessing)
	wav := audio.WrapWAV(buf)

	tctx, cancel := context.WithTimeout(ctx, transcriptionTimeout)
	defer cancel()

	spanStart := time.Now()
	text, err := e.cfg.Transcriber.Transcribe(tctx, wav)
	s.RecordSpan(s.ActiveResponseID(), "transcribe", spanStart, time.Since(spanStart).Seconds()*1000, "", text, statusFor(err), errString(err))
	if err != nil {
		e.emitError(s, "transcription_failed", err.Error(), true)
		s.Transition(session.StateIdle)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.Transition(session.StateIdle)
		return
	}

	e.runTurn(ctx, s, text)
}

// HandleTranscript implements the transport's text-injected transcript path
// (§6 "bypasses transcription when the client has its own STT").
func (e *Engine) HandleTranscript(ctx context.Context, s *session.Session, text string, isFinal bool) {
	text = strings.TrimSpace(text)
	if !isFinal {
		s.Bus.Publish(events.KindTranscriptPartial, events.TranscriptPayload{Text: text, IsFinal: false})
		return
	}
	if text == "" {
		return
	}
	s.Transition(session.StateProcessing)
	e.runTurn(ctx, s, text)
}

// Interrupt implements §4.5's interrupt semantics, invoked by the transport
// on an explicit control message or by the wake/interrupt gate below.
func (e *Engine) Interrupt(s *session.Session, reason events.InterruptReason) bool {
	wasSpeaking := s.State() == session.StateSpeaking
	if !s.Interrupt() {
		return false
	}
	if wasSpeaking {
		s.Bus.Publish(events.KindSynthesisStop, nil)
	}
	s.Bus.Publish(events.KindSessionInterrupted, events.SessionInterruptedPayload{Reason: reason})
	return true
}

// runTurn executes the turn protocol (§4.5 steps 2-9) over an already
// trimmed, non-empty transcript.
func (e *Engine) runTurn(ctx context.Context, s *session.Session, transcript string) {
	input, proceed := e.applyWakeGate(s, transcript)
	if !proceed {
		return
	}

	// Step 3: emit transcript.final, append user message, write-through.
	s.Bus.Publish(events.KindTranscriptFinal, events.TranscriptPayload{Text: input, IsFinal: true})
	conv := e.cfg.Conversations.Get(s.ConversationID)
	conv.Append(memory.Message{Role: memory.RoleUser, Text: input, At: time.Now()})
	if e.cfg.VectorStore != nil {
		e.cfg.VectorStore.StoreAsync(context.Background(), s.ConversationID, input, "")
	}

	// Step 4: mint response id.
	responseID := s.BeginResponse()
	turnStart := time.Now()
	s.StartTurn(responseID)

	e.generateAndSynthesize(ctx, s, conv, input, responseID, turnStart)
}

// applyWakeGate implements §4.5 step 2. Returns the text to use as turn
// input and whether the turn should proceed.
func (e *Engine) applyWakeGate(s *session.Session, transcript string) (string, bool) {
	result := wake.Result{Kind: wake.KindNone}
	if s.Wake != nil {
		result = s.Wake.Classify(transcript)
	}
	metrics.WakeDetections.WithLabelValues(string(result.Kind)).Inc()

	state := s.State()

	switch {
	case state == session.StateSpeaking && result.Kind == wake.KindInterrupt:
		e.Interrupt(s, events.ReasonUser)
		return "", false

	case state == session.StateInterrupted && result.Kind == wake.KindWake:
		tail := wake.ExtractCommandAfterWake(transcript, result.PrefixWords)
		if tail == "" {
			s.Bus.Publish(events.KindTranscriptFinal, events.TranscriptPayload{Text: transcript, IsFinal: true})
			return "", false
		}
		s.Transition(session.StateProcessing)
		return tail, true

	case state != session.StateInterrupted && result.Kind == wake.KindWake:
		tail := wake.ExtractCommandAfterWake(transcript, result.PrefixWords)
		if tail == "" {
			return "", false
		}
		return tail, true

	default:
		return transcript, true
	}
}

// generateAndSynthesize runs §4.5 steps 5-9: streamed generation, sentence-
// pipelined synthesis, verification, and finalization.
func (e *Engine) generateAndSynthesize(ctx context.Context, s *session.Session, conv *memory.Conversation, input, responseID string, turnStart time.Time) {
	gctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	reqContext := e.buildContext(gctx, conv, input)
	messages := e.buildMessages(conv, input, reqContext)

	s.Bus.Publish(events.KindGenerationStart, nil)
	genStart := time.Now()
	tokens, errc := e.cfg.Generator.GenerateStream(gctx, messages, reqContext)

	var fullReply strings.Builder
	var clauses clauseAssembler
	synthesisStarted := false
	sentErr := false

	for tok := range tokens {
		if !s.IsCurrent(responseID) {
			cancel() // stop consuming from the generator (§5 cancellation)
			return
		}
		fullReply.WriteString(tok.Text)
		s.Bus.Publish(events.KindGenerationChunk, events.GenerationChunkPayload{Token: tok.Text})

		for _, clause := range clauses.Feed(tok.Text) {
			if !synthesisStarted {
				synthesisStarted = true
				s.Transition(session.StateSpeaking)
				s.Bus.Publish(events.KindSynthesisStart, nil)
			}
			if err := e.synthesizeSentence(gctx, s, responseID, clause); err != nil {
				sentErr = true
				slog.Error("synthesis failed for sentence, continuing", "error", err)
			}
		}
	}

	if err := <-errc; err != nil {
		s.RecordSpan(responseID, "generate", genStart, time.Since(genStart).Seconds()*1000, input, fullReply.String(), "error", err.Error())
		if !s.IsCurrent(responseID) {
			return // superseded; not a real failure
		}
		e.emitError(s, "generation_failed", err.Error(), true)
		s.Transition(session.StateIdle)
		s.EndTurn(responseID, time.Since(turnStart).Seconds()*1000, input, fullReply.String(), "error", false, 0, 0)
		return
	}
	s.RecordSpan(responseID, "generate", genStart, time.Since(genStart).Seconds()*1000, input, fullReply.String(), "ok", "")

	if !s.IsCurrent(responseID) {
		return
	}

	// Step 7: flush tail.
	if remainder := clauses.Drain(); remainder != "" {
		if !synthesisStarted {
			synthesisStarted = true
			s.Transition(session.StateSpeaking)
			s.Bus.Publish(events.KindSynthesisStart, nil)
		}
		if err := e.synthesizeSentence(gctx, s, responseID, remainder); err != nil {
			sentErr = true
			slog.Error("synthesis failed for final sentence", "error", err)
		}
	}
	_ = sentErr // per-sentence synthesis failures are non-fatal to the turn (§7)

	if !s.IsCurrent(responseID) {
		return
	}

	// Step 8: verify.
	e.verifyAndFinalize(gctx, s, conv, input, fullReply.String(), responseID, synthesisStarted, turnStart)
}

// buildMessages assembles the system prompt (plus any retrieved knowledge-
// base context), conversation history, and the current input into the
// Message slice the generation port consumes.
func (e *Engine) buildMessages(conv *memory.Conversation, input string, reqContext map[string]any) []ports.Message {
	history := conv.Messages()
	out := make([]ports.Message, 0, len(history)+3)
	out = append(out, ports.Message{Role: "system", Text: prompts.ForSession(e.cfg.SystemPrompt)})
	if kb, ok := reqContext["knowledge_base"].(string); ok && kb != "" {
		out = append(out, ports.Message{Role: "system", Text: prompts.RAGContext(kb)})
	}
	for _, m := range history {
		out = append(out, ports.Message{Role: string(m.Role), Text: m.Text})
	}
	out = append(out, ports.Message{Role: "user", Text: input})
	return out
}

// buildContext assembles the free-form request context: engine/model
// selection, the ContextProvider's snapshot, and anything a RAG lookup
// surfaces. snapshotFor derives the verification ContextSnapshot from it.
func (e *Engine) buildContext(ctx context.Context, conv *memory.Conversation, input string) map[string]any {
	reqContext := map[string]any{
		"engine": e.cfg.LLMEngine,
		"model":  e.cfg.LLMModel,
	}
	if e.cfg.ContextProvider != nil {
		for k, v := range e.cfg.ContextProvider(ctx) {
			reqContext[k] = v
		}
	}
	if e.cfg.VectorStore != nil {
		if kb, err := e.cfg.VectorStore.RetrieveContext(ctx, input); err == nil && kb != "" {
			reqContext["knowledge_base"] = kb
		}
	}
	return reqContext
}

// snapshotFor builds the verification ContextSnapshot (§3) from the live API
// context, recent conversation, and any retrieved knowledge-base snippets.
func (e *Engine) snapshotFor(reqContext map[string]any, conv *memory.Conversation) verify.ContextSnapshot {
	snap := verify.ContextSnapshot{API: map[string]any{}}
	for k, v := range reqContext {
		if k == "engine" || k == "model" || k == "knowledge_base" {
			continue
		}
		snap.API[k] = v
	}
	if kb, ok := reqContext["knowledge_base"].(string); ok && kb != "" {
		snap.KnowledgeBase = append(snap.KnowledgeBase, kb)
	}
	for _, m := range conv.Messages() {
		snap.Conversation = append(snap.Conversation, verify.ConversationTurn{Role: string(m.Role), Text: m.Text})
	}
	return snap
}

// synthesizeSentence dispatches one sentence to the synthesis port,
// serialized with respect to prior sentences of the same turn (§4.5 step
// 6c: "sentence N+1's synthesis starts only after sentence N's callback has
// returned").
func (e *Engine) synthesizeSentence(ctx context.Context, s *session.Session, responseID, sentence string) error {
	sctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	start := time.Now()
	err := e.cfg.Synthesizer.SynthesizeStream(sctx, sentence, func(chunk ports.AudioChunk) error {
		if !s.IsCurrent(responseID) {
			return context.Canceled // dropped by pre-emit check
		}
		s.Bus.Publish(events.KindSynthesisChunk, events.SynthesisChunkPayload{Audio: chunk.PCM})
		return nil
	})
	metrics.StageDuration.WithLabelValues("synthesize").Observe(time.Since(start).Seconds())
	s.RecordSpan(responseID, "synthesize_sentence", start, time.Since(start).Seconds()*1000, sentence, "", statusFor(err), errString(err))
	if err != nil && err != context.Canceled {
		metrics.Errors.WithLabelValues("synthesize", "upstream").Inc()
		return err
	}
	return nil
}

// verifyAndFinalize implements §4.5 steps 8-9.
func (e *Engine) verifyAndFinalize(ctx context.Context, s *session.Session, conv *memory.Conversation, input, fullReply, responseID string, synthesisStarted bool, turnStart time.Time) {
	reqContext := e.buildContext(ctx, conv, input)
	snapshot := e.snapshotFor(reqContext, conv)

	verifyStart := time.Now()
	result := e.cfg.Verify.Verify(ctx, fullReply, snapshot)
	s.RecordSpan(responseID, "verify", verifyStart, time.Since(verifyStart).Seconds()*1000, fullReply, "", statusFor(nil), "")
	metrics.VerificationConfidence.Observe(result.Confidence)

	finalText := fullReply
	if !result.Verified {
		finalText = result.Rewritten
		if finalText == "" {
			finalText = fullReply
		}
		metrics.VerificationRewrites.Inc()
		for _, w := range result.Warnings {
			slog.Warn("unverified claim in reply", "session_id", s.ID, "warning", w)
		}
	}

	citations := make([]memory.Citation, len(result.Citations))
	for i, c := range result.Citations {
		citations[i] = memory.Citation{Source: c.Source, Snippet: c.Snippet}
	}
	conv.Append(memory.Message{Role: memory.RoleAssistant, Text: finalText, Citations: citations, At: time.Now()})

	if e.cfg.VectorStore != nil {
		e.cfg.VectorStore.StoreAsync(context.Background(), s.ConversationID, input, finalText)
	}

	citationLabels := make([]string, len(result.Citations))
	for i, c := range result.Citations {
		citationLabels[i] = c.Source
	}
	s.Bus.Publish(events.KindGenerationEnd, events.GenerationEndPayload{
		Text:       finalText,
		Verified:   result.Verified,
		Confidence: result.Confidence,
		Citations:  citationLabels,
		Warnings:   result.Warnings,
	})

	metrics.TurnsTotal.WithLabelValues("completed").Inc()

	status := "ok"
	if !result.Verified {
		status = "rewritten"
	}
	s.EndTurn(responseID, time.Since(turnStart).Seconds()*1000, input, finalText, status, result.Verified, result.Confidence, len(result.Citations))

	// Step 9: finalize.
	if synthesisStarted && s.IsCurrent(responseID) {
		s.Bus.Publish(events.KindSynthesisEnd, nil)
	}
	if s.State() != session.StateInterrupted {
		s.Transition(session.StateIdle)
	}
}

// statusFor converts an error into the trace status vocabulary ("ok"/"error").
func statusFor(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// errString renders err.Error(), or "" for a nil error.
func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Engine) emitError(s *session.Session, code, message string, recoverable bool) {
	metrics.Errors.WithLabelValues(code, "turn").Inc()
	s.Bus.Publish(events.KindError, events.ErrorPayload{Code: code, Message: message, Recoverable: recoverable})
}
