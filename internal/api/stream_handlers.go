package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/core"
	"gwi.com/pdf-assistant/internal/store"
)

var errStreamUnsupported = errors.New("streaming not supported")

type updateEvent struct {
	Content string `json:"content"`
}

// streamTurn runs one conversational turn and relays the trailing reply of
// each commit as an update event. The turn runs detached from the request so a disconnecting client
// does not lose the persisted reply.
func (h *APIHandler) streamTurn(w http.ResponseWriter, r *http.Request, action string, run func(ctx context.Context, onUpdate core.UpdateFunc) (any, error)) {
	events, ok := newEventStream(w)
	if !ok {
		h.fail(w, r, action, errStreamUnsupported)
		return
	}
	log := h.log.With(zap.String("path", r.URL.Path))
	onUpdate := func(msgs []store.Message) {
		if len(msgs) == 0 || msgs[len(msgs)-1].Role != store.RoleAI {
			return
		}
		if err := events.Send("update", updateEvent{Content: msgs[len(msgs)-1].Content}); err != nil {
			log.Debug("update event dropped", zap.Error(err))
		}
	}

	done, err := run(context.WithoutCancel(r.Context()), onUpdate)
	if err != nil {
		if !events.Started() {
			h.fail(w, r, action, err)
			return
		}
		log.Error(action+" failed mid-stream", zap.Error(err))
		events.Send("error", map[string]string{"error": "Failed to " + action})
		return
	}
	if err := events.Send("done", done); err != nil {
		log.Debug("done event dropped", zap.Error(err))
	}
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type chatDone struct {
	Message store.Message `json:"message"`
	HTML    string        `json:"html"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "post message", err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	h.streamTurn(w, r, "post message", func(ctx context.Context, onUpdate core.UpdateFunc) (any, error) {
		reply, err := h.Chat.SendMessage(ctx, sessionID, req.Content, onUpdate)
		if err != nil {
			return nil, err
		}
		return chatDone{Message: reply.Reply, HTML: reply.HTML}, nil
	})
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := h.Chat.Messages(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// CreateAnnotationHandler captures a region and answers with the annotation
// after its initial turn, or 204 when the selection is too small.
func (h *APIHandler) CreateAnnotationHandler(w http.ResponseWriter, r *http.Request) {
	var req core.CaptureRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "create annotation", err)
		return
	}
	annotation, err := h.Annotations.Create(context.WithoutCancel(r.Context()), chi.URLParam(r, "sessionID"), req, nil)
	if err != nil {
		h.fail(w, r, "create annotation", err)
		return
	}
	if annotation == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, annotation)
}

func (h *APIHandler) PostAnnotationMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "post annotation message", err)
		return
	}
	sessionID, annotationID := chi.URLParam(r, "sessionID"), chi.URLParam(r, "annotationID")
	h.streamTurn(w, r, "post annotation message", func(ctx context.Context, onUpdate core.UpdateFunc) (any, error) {
		return h.Annotations.SendTurn(ctx, sessionID, annotationID, req.Content, false, onUpdate)
	})
}

type MoveAnnotationRequest struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

func (h *APIHandler) MoveAnnotationHandler(w http.ResponseWriter, r *http.Request) {
	var req MoveAnnotationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "move annotation", err)
		return
	}
	annotation, err := h.Annotations.Move(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "annotationID"), req.X, req.Y, req.Scale)
	if err != nil {
		h.fail(w, r, "move annotation", err)
		return
	}
	writeJSON(w, http.StatusOK, annotation)
}

func (h *APIHandler) DeleteAnnotationHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Annotations.Delete(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "annotationID")); err != nil {
		h.fail(w, r, "delete annotation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ImageChatRequest struct {
	Content string `json:"content"`
	// Attachment is an optional image data URL.
	Attachment string `json:"attachment"`
}

func (h *APIHandler) PostImageChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ImageChatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, "send image chat", err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	h.streamTurn(w, r, "send image chat", func(ctx context.Context, onUpdate core.UpdateFunc) (any, error) {
		msgs, err := h.ImageChat.Send(ctx, sessionID, req.Content, req.Attachment, onUpdate)
		if err != nil {
			return nil, err
		}
		return map[string][]store.Message{"messages": msgs}, nil
	})
}

func (h *APIHandler) GetImageChatHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]store.Message{"messages": h.ImageChat.History(chi.URLParam(r, "sessionID"))})
}
