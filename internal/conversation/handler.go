package conversation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wavelinehealth/frontdesk/internal/engine"
	"github.com/wavelinehealth/frontdesk/pkg/logging"
)

// Handler wires HTTP requests to the conversation service.
type Handler struct {
	service Service
	logger  *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(service Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("conversation: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes mounts the conversation endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/sessions", h.StartSession)
	r.Post("/v1/sessions/{sessionID}/turns", h.Turn)
}

// StartSessionResponse is the body returned by POST /v1/sessions.
type StartSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// TurnRequest is the body of POST /v1/sessions/{sessionID}/turns. The caller's
// language-understanding layer has already extracted intent, facts, and the
// yes/no signal from the user's words.
type TurnRequest struct {
	Intent    string            `json:"intent,omitempty"`
	Facts     map[string]string `json:"facts,omitempty"`
	Signal    string            `json:"signal,omitempty"` // "yes" or "no"
	Selection int               `json:"selection,omitempty"`
	Abort     bool              `json:"abort,omitempty"`
}

// StartSession handles POST /v1/sessions.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.service.StartSession(r.Context())
	if err != nil {
		h.logger.Error("failed to start session", "error", err)
		http.Error(w, "Failed to start session", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, StartSessionResponse{SessionID: sessionID})
}

// Turn handles POST /v1/sessions/{sessionID}/turns.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode turn request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	out, err := h.service.HandleTurn(r.Context(), sessionID, turnInput(req))
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			http.Error(w, "Session not found", http.StatusNotFound)
		case errors.Is(err, engine.ErrSessionClosed):
			http.Error(w, "Session already ended", http.StatusConflict)
		default:
			h.logger.Error("failed to process turn", "session_id", sessionID, "error", err)
			http.Error(w, "Failed to process turn", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, out)
}

// turnInput maps the wire request onto the engine's input. Unknown intents and
// signals map to their zero values; the engine re-prompts as needed.
func turnInput(req TurnRequest) engine.TurnInput {
	in := engine.TurnInput{
		Selection: req.Selection,
		Abort:     req.Abort,
	}
	switch req.Intent {
	case "book":
		in.Intent = engine.IntentBook
	case "cancel":
		in.Intent = engine.IntentCancel
	case "reschedule":
		in.Intent = engine.IntentReschedule
	}
	switch req.Signal {
	case "yes":
		in.Signal = engine.SignalAffirm
	case "no":
		in.Signal = engine.SignalDeny
	}
	if len(req.Facts) > 0 {
		in.Facts = make(engine.Facts, len(req.Facts))
		for k, v := range req.Facts {
			in.Facts[engine.FactKey(k)] = v
		}
	}
	return in
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
