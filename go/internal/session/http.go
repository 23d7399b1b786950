package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/auth"
)

// Joiner is the slice of the App the join URL handler needs
type Joiner interface {
	JoinByPin(ctx context.Context, req JoinRequest) (*JoinResult, error)
}

// RoomPath is where a joined player lands
func RoomPath(sessionID, participantID uuid.UUID) string {
	return "/room/" + sessionID.String() + "?" + url.Values{"participant_id": {participantID.String()}}.Encode()
}

// JoinPath is the canonical join URL path for a PIN
func JoinPath(pin string) string {
	return "/join?" + url.Values{"pin": {pin}}.Encode()
}

// LoginPath sends an anonymous player to sign in, returning to the join URL afterward.
func LoginPath(pin string) string {
	return "/login?" + url.Values{"redirect": {JoinPath(pin)}}.Encode()
}

// JoinResponse is the JSON body of a successful join URL request
type JoinResponse struct {
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Rejoined      bool      `json:"rejoined"`
	RoomPath      string    `json:"room_path"`
}

// ErrorResponse is the toast payload for a failed join
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Redirect string `json:"redirect,omitempty"`
}

// HTTPHandler serves the shareable join URLs and QR payloads
type HTTPHandler struct {
	app     Joiner
	baseURL string
}

func NewHTTPHandler(app Joiner, publicBaseURL string) *HTTPHandler {
	return &HTTPHandler{
		app:     app,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Register mounts the join routes on mux
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /join", h.handleJoin)
	mux.HandleFunc("GET /join/{pin}", h.handleJoin)
	mux.HandleFunc("GET /qr/{pin}", h.handleQR)
}

func (h *HTTPHandler) handleJoin(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("pin")
	if raw == "" {
		raw = r.URL.Query().Get("pin")
	}
	pin, err := NormalizePin(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}

	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		if wantsJSON(r) {
			writeError(w, http.StatusUnauthorized, ErrUnauthenticated, LoginPath(pin))
			return
		}
		http.Redirect(w, r, LoginPath(pin), http.StatusSeeOther)
		return
	}

	result, err := h.app.JoinByPin(r.Context(), JoinRequest{
		Pin:      pin,
		UserID:   userID,
		Nickname: r.URL.Query().Get("nickname"),
	})
	if err != nil {
		log.Info().Err(err).Str("pin", pin).Str("user_id", userID.String()).Msg("join by url rejected")
		writeError(w, statusFor(err), err, "")
		return
	}

	room := RoomPath(result.Session.ID, result.Participant.ID)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, JoinResponse{
			SessionID:     result.Session.ID,
			ParticipantID: result.Participant.ID,
			Rejoined:      result.Rejoined,
			RoomPath:      room,
		})
		return
	}
	http.Redirect(w, r, room, http.StatusSeeOther)
}

func (h *HTTPHandler) handleQR(w http.ResponseWriter, r *http.Request) {
	pin, err := NormalizePin(r.PathValue("pin"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.baseURL + JoinPath(pin)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidPin), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionFinished):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeError(w http.ResponseWriter, status int, err error, redirect string) {
	writeJSON(w, status, ErrorResponse{
		Error:    err.Error(),
		Code:     CodeFor(err).String(),
		Redirect: redirect,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
