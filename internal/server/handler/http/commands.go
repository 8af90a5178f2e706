// Package http exposes the command gateway over HTTP. Each request carries
// one chat command or menu press; the response is the transcript of replies
// it produced, either as one JSON document or streamed as NDJSON events
// while the command runs.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/GVMBot/internal/gateway"
	"github.com/atinyakov/GVMBot/internal/middleware"
	"github.com/atinyakov/GVMBot/internal/models"
)

// StreamMediaType is the Accept value asking for a streamed transcript.
const StreamMediaType = "application/x-ndjson"

// CommandGateway is what the handlers need from the gateway.
type CommandGateway interface {
	Handle(ctx context.Context, caller models.Caller, conv gateway.Conversation, line string) error
	Press(ctx context.Context, caller models.Caller, conv gateway.Conversation, menuID string, trigger gateway.Trigger) error
}

// CommandHandler serves commands and menu presses.
type CommandHandler struct {
	Gateway CommandGateway
	Log     *zap.Logger
}

// CommandRequest is the JSON body of POST /api/commands.
type CommandRequest struct {
	Command string `json:"command"`
}

// TranscriptResponse is returned by both endpoints.
type TranscriptResponse struct {
	Outcome  models.Outcome      `json:"outcome"`
	Messages []TranscriptMessage `json:"messages"`
}

// Run handles POST /api/commands.
func (h *CommandHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, "caller id required", http.StatusUnauthorized)
		return
	}

	h.serve(w, r, func(conv gateway.Conversation) error {
		return h.Gateway.Handle(r.Context(), caller, conv, req.Command)
	})
}

// Press handles POST /api/menus/{menuID}/{trigger}.
func (h *CommandHandler) Press(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, "caller id required", http.StatusUnauthorized)
		return
	}
	menuID := chi.URLParam(r, "menuID")
	trigger := gateway.Trigger(chi.URLParam(r, "trigger"))

	h.serve(w, r, func(conv gateway.Conversation) error {
		return h.Gateway.Press(r.Context(), caller, conv, menuID, trigger)
	})
}

// serve runs one gateway call and answers with its transcript. Clients
// accepting StreamMediaType get every reply and edit as soon as it is made,
// so a slow panel call shows its placeholder first.
func (h *CommandHandler) serve(w http.ResponseWriter, r *http.Request, run func(gateway.Conversation) error) {
	if !strings.Contains(r.Header.Get("Accept"), StreamMediaType) {
		var t Transcript
		err := run(&t)
		h.respond(w, &t, err)
		return
	}

	w.Header().Set("Content-Type", StreamMediaType)
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	t := Transcript{emit: func(e Event) {
		if err := enc.Encode(e); err != nil {
			return
		}
		if err := rc.Flush(); err != nil && h.Log != nil {
			h.Log.Debug("stream flush failed", zap.Error(err))
		}
	}}
	err := run(&t)
	if err != nil && h.Log != nil {
		h.Log.Debug("command finished with error", zap.Error(err))
	}
	t.finish(gateway.OutcomeOf(err))
}

// respond always answers 200: the replies already tell the caller what went
// wrong and the outcome classifies it.
func (h *CommandHandler) respond(w http.ResponseWriter, t *Transcript, err error) {
	if err != nil && h.Log != nil {
		h.Log.Debug("command finished with error", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(TranscriptResponse{
		Outcome:  gateway.OutcomeOf(err),
		Messages: t.Messages(),
	})
}

// Health handles GET /api/health.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
