package api

import (
	"net/http"
	"strings"

	"gwi.com/pdf-assistant/internal/core"
)

// requestOrigin is the browser origin, or the scheme and host the request
// came in on.
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

func (h *APIHandler) CreateShareHandler(w http.ResponseWriter, r *http.Request) {
	var req core.CreateShareRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "create share", err)
		return
	}
	link, err := h.Share.Create(r.Context(), req, requestOrigin(r))
	if err != nil {
		h.fail(w, r, "create share", err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

type OpenShareRequest struct {
	PublicID string `json:"publicId"`
	Password string `json:"password"`
}

func (h *APIHandler) OpenShareHandler(w http.ResponseWriter, r *http.Request) {
	var req OpenShareRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "open share", err)
		return
	}
	view, err := h.Share.Open(r.Context(), req.PublicID, req.Password)
	if err != nil {
		h.fail(w, r, "open share", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SharedChatHandler answers a viewer question. A bearer token from the open
// call may replace the password.
func (h *APIHandler) SharedChatHandler(w http.ResponseWriter, r *http.Request) {
	var req core.SharedChatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "shared chat", err)
		return
	}
	if authHeader := r.Header.Get("Authorization"); req.Token == "" && authHeader != "" {
		req.Token = strings.TrimPrefix(authHeader, "Bearer ")
	}
	reply, err := h.Share.Chat(r.Context(), req)
	if err != nil {
		h.fail(w, r, "shared chat", err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
