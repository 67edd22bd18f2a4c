package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/aurelia-ai/multichat/internal/entitlement"
	"github.com/aurelia-ai/multichat/internal/middleware"
	"github.com/aurelia-ai/multichat/internal/model"
	"github.com/aurelia-ai/multichat/internal/orchestrator"
	"github.com/aurelia-ai/multichat/internal/store"
	"github.com/aurelia-ai/multichat/pkg/logger"
	"github.com/aurelia-ai/multichat/pkg/metrics"
)

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logger.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *ChatHandler {
	return &ChatHandler{orchestrator: orch, logger: log}
}

// ChatRequest is the POST /chat request body.
type ChatRequest struct {
	ConversationID     string   `json:"conversation_id,omitempty"`
	Content            string   `json:"content"`
	ModelIDs           []string `json:"model_ids"`
	AlternativeOf      string   `json:"alternative_of,omitempty"`
	CustomInstructions string   `json:"custom_instructions,omitempty"`
}

// Chat handles POST /api/v1/chat. Entitlement rejections come back as a
// JSON error before the stream opens; past that point the response is a
// server-sent event stream multiplexing every dispatched model.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	tier := middleware.GetTier(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.AlternativeOf == "" {
		if err := middleware.ValidateMessageContent(req.Content); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		if err := middleware.ValidateMessageID(req.AlternativeOf); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.ConversationID == "" {
			writeError(w, http.StatusBadRequest, "alternative_of requires conversation_id")
			return
		}
	}
	if req.ConversationID != "" {
		if err := middleware.ValidateConversationID(req.ConversationID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	dispatched, err := h.orchestrator.Dispatch(r.Context(), orchestrator.Request{
		UserID:             userID,
		Tier:               tier,
		ConversationID:     req.ConversationID,
		Content:            req.Content,
		ModelIDs:           req.ModelIDs,
		AlternativeOf:      req.AlternativeOf,
		CustomInstructions: req.CustomInstructions,
	})
	if err != nil {
		if rej, ok := entitlement.AsRejection(err); ok {
			writeRejection(w, rej)
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation or message not found")
			return
		}
		h.logger.Error("dispatch failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	sendSSEEvent(w, flusher, string(model.EventMeta), model.MetaEvent{
		ConversationID: dispatched.ConversationID,
		UserMessageID:  dispatched.UserMessageID,
	})

	// Drain until every dispatch reaches a terminal state. The channel
	// closing is the aggregate completion signal. If the client goes
	// away the request context cancels the dispatches; keep draining so
	// the orchestrator's senders never block.
	for ev := range dispatched.Events {
		if r.Context().Err() != nil {
			continue
		}
		switch ev.Type {
		case model.EventToken:
			sendSSEEvent(w, flusher, string(model.EventToken), ev.Token)
		case model.EventDone:
			sendSSEEvent(w, flusher, string(model.EventDone), ev.Done)
		case model.EventError:
			sendSSEEvent(w, flusher, string(model.EventError), ev.Error)
		}
	}
}
