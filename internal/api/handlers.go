package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/analysis"
	"gwi.com/pdf-assistant/internal/citation"
	"gwi.com/pdf-assistant/internal/core"
	"gwi.com/pdf-assistant/internal/store"
)

// maxUploadSize bounds a single PDF upload.
const maxUploadSize = 64 << 20

// Credentials stores the local model API key.
type Credentials interface {
	SetAPIKey(ctx context.Context, key string) error
	HasAPIKey(ctx context.Context) (bool, error)
}

type Services struct {
	Sessions    *core.SessionService
	Analysis    *core.AnalysisService
	Chat        *core.ChatService
	Annotations *core.AnnotationService
	ImageChat   *core.ImageChatService
	Share       *core.ShareService
	Credentials Credentials
	Renderer    *citation.Renderer
}

type APIHandler struct {
	Services
	log *zap.Logger
}

func NewAPIHandler(services Services, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{Services: services, log: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", core.ErrValidation, err)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrAnnotationNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrShareNotFound), errors.Is(err, core.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, core.ErrMissingAPIKey):
		return http.StatusPreconditionFailed
	case errors.Is(err, core.ErrAnalysis), errors.Is(err, core.ErrModelCall):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Server-side failures are logged and their
// details kept from the client.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error(action+" failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "Failed to " + action
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type CredentialsRequest struct {
	APIKey string `json:"apiKey"`
}

func (h *APIHandler) PutCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "store credentials", err)
		return
	}
	if err := h.Credentials.SetAPIKey(r.Context(), req.APIKey); err != nil {
		h.fail(w, r, "store credentials", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) GetCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Credentials.HasAPIKey(r.Context())
	if err != nil {
		h.fail(w, r, "read credentials", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"configured": ok})
}

func (h *APIHandler) GetViewHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Sessions.View())
}

func (h *APIHandler) PatchViewHandler(w http.ResponseWriter, r *http.Request) {
	var patch core.ViewPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.fail(w, r, "update view", err)
		return
	}
	view, err := h.Sessions.PatchView(r.Context(), patch)
	if err != nil {
		h.fail(w, r, "update view", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *APIHandler) ResetViewHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.Sessions.Reset(r.Context())
	if err != nil {
		h.fail(w, r, "reset view", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SessionSummary is a session without its document bytes or transcripts.
type SessionSummary struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	PageCount   int    `json:"pageCount"`
	HasAnalysis bool   `json:"hasAnalysis"`
	CreatedAt   int64  `json:"createdAt"`
}

func summarize(s *store.PdfSession) SessionSummary {
	return SessionSummary{
		ID:          s.ID,
		FileName:    s.FileName,
		PageCount:   s.PageCount,
		HasAnalysis: s.AnalysisData != nil,
		CreatedAt:   s.CreatedAt,
	}
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, "upload document", fmt.Errorf("%w: multipart field \"file\" is required: %v", core.ErrValidation, err))
		return
	}
	defer file.Close()

	pdf, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, "upload document", fmt.Errorf("%w: %v", core.ErrValidation, err))
		return
	}
	session, err := h.Sessions.CreateSession(r.Context(), header.Filename, pdf)
	if err != nil {
		h.fail(w, r, "create session", err)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(session))
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.ListSessions(r.Context())
	if err != nil {
		h.fail(w, r, "list sessions", err)
		return
	}
	out := make([]SessionSummary, len(sessions))
	for i := range sessions {
		out[i] = summarize(&sessions[i])
	}
	writeJSON(w, http.StatusOK, out)
}

type SessionDetails struct {
	*store.PdfSession
	Messages []core.RenderedMessage `json:"messages"`
	Analysis *AnalysisResponse      `json:"analysis,omitempty"`
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.Sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, "get session", err)
		return
	}
	messages, err := h.Chat.Messages(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, "get session", err)
		return
	}
	details := SessionDetails{PdfSession: session, Messages: messages}
	if session.AnalysisData != nil {
		resp, err := h.analysisResponse(session.AnalysisData)
		if err != nil {
			h.fail(w, r, "get session", err)
			return
		}
		details.Analysis = resp
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *APIHandler) SelectSessionHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.Sessions.SelectSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, "select session", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.fail(w, r, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type AnalysisResponse struct {
	AnalysisData         *store.AnalysisData       `json:"analysisData"`
	Rendered             citation.RenderedAnalysis `json:"rendered"`
	RecommendedQuestions []string                  `json:"recommendedQuestions"`
}

func (h *APIHandler) analysisResponse(data *store.AnalysisData) (*AnalysisResponse, error) {
	rendered, err := h.Renderer.RenderAnalysis(data)
	if err != nil {
		return nil, fmt.Errorf("failed to render analysis: %w", err)
	}
	return &AnalysisResponse{
		AnalysisData:         data,
		Rendered:             rendered,
		RecommendedQuestions: analysis.RecommendedQuestions(data.Insights),
	}, nil
}

func (h *APIHandler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	data, err := h.Analysis.Analyze(context.WithoutCancel(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, "analyze document", err)
		return
	}
	resp, err := h.analysisResponse(data)
	if err != nil {
		h.fail(w, r, "analyze document", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
