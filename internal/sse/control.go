package sse

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rideline/realtime/internal/auth"
	"github.com/rideline/realtime/internal/hub"
	"github.com/rideline/realtime/internal/monitoring"
)

// ControlHandler is the request/response side of the fallback channel.
// Stream clients cannot send envelopes, so subscriptions and stats queries
// arrive here as short-lived POSTs.
type ControlHandler struct {
	opts Options
}

func NewControlHandler(opts Options) *ControlHandler {
	opts.applyDefaults()
	return &ControlHandler{opts: opts}
}

type controlRequest struct {
	Action    string `json:"action"`
	BookingID int64  `json:"bookingId,omitempty"`
}

type controlError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *ControlHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, controlError{Error: "POST required"})
		return
	}

	identity, err := h.opts.Resolver.Resolve(auth.CredentialFromRequest(r))
	if err != nil {
		monitoring.AuthFailed()
		writeJSON(w, http.StatusUnauthorized, controlError{Error: "authentication failed"})
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, controlError{Error: "invalid request body"})
		return
	}

	switch req.Action {
	case "stats":
		writeJSON(w, http.StatusOK, h.opts.Hub.StatsSnapshot())

	case "subscribe":
		if req.BookingID == 0 {
			writeJSON(w, http.StatusBadRequest, controlError{Error: "bookingId required"})
			return
		}
		if err := h.opts.Hub.Subscribe(r.Context(), identity, req.BookingID); err != nil {
			if errors.Is(err, hub.ErrDenied) {
				writeJSON(w, http.StatusForbidden, controlError{Error: "not a party to this booking"})
				return
			}
			writeJSON(w, http.StatusBadGateway, controlError{Error: "could not verify booking access"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"subscribed": true})

	default:
		writeJSON(w, http.StatusBadRequest, controlError{Error: "unknown action"})
	}
}
