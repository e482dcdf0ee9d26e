package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/analysis"
	"gwi.com/pdf-assistant/internal/citation"
	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

// UpdateFunc receives every committed transcript of an in-flight turn.
type UpdateFunc func(msgs []store.Message)

type ChatReply struct {
	Messages []store.Message
	Reply    store.Message
	// HTML is the reply rendered with citation badges.
	HTML string
}

type ChatService struct {
	sessions   SessionStore
	view       *viewstate.Store
	gen        Generator
	reconciler *Reconciler
	renderer   *citation.Renderer
	log        *zap.Logger
}

func NewChatService(sessions SessionStore, view *viewstate.Store, gen Generator, reconciler *Reconciler, renderer *citation.Renderer, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		sessions:   sessions,
		view:       view,
		gen:        gen,
		reconciler: reconciler,
		renderer:   renderer,
		log:        logger,
	}
}

// SendMessage appends a user turn to the session's main chat and streams the
// reply into it. The document and the analysis digest ride along only on the
// session's first turn since it was selected. Model failures end up as a
// fixed error text in the transcript, not as an error.
func (s *ChatService) SendMessage(ctx context.Context, sessionID, content string, onUpdate UpdateFunc) (*ChatReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", ErrValidation)
	}
	session, pdf, err := loadWithPDF(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("session_id", sessionID))

	history := append(store.CloneMessages(session.Messages), store.Message{Role: store.RoleUser, Content: content})
	commit := s.committer(sessionID, onUpdate)
	if err := commit(ctx, history, true); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}

	firstTurn := !s.view.Snapshot().DocumentAttached(sessionID)
	var parts []Part
	if firstTurn {
		parts = append(parts, BlobPart("application/pdf", pdf))
		if digest := analysis.Digest(session.AnalysisData, session.FileName, analysis.ChatDigest); digest != "" {
			parts = append(parts, TextPart(chatDigestHeader+digest))
		}
	}
	parts = append(parts, TextPart(chatPrompt(history)))

	index := citation.IndexLines(session.AnalysisData)
	var html string
	outcome, err := s.reconciler.Run(ctx, Turn{
		History: history,
		Open: func(ctx context.Context) (TextStream, error) {
			return s.gen.Stream(ctx, Request{System: chatSystemPrompt, Parts: parts})
		},
		Commit: commit,
		Finalize: func(reply *store.Message) {
			rendered, err := s.renderer.Render(reply.Content, index)
			if err != nil {
				log.Warn("citation rendering failed", zap.Error(err))
				return
			}
			html = rendered.HTML
			reply.Citations = rendered.Pages()
		},
		ErrorText: chatErrorText,
	})
	if err != nil {
		return nil, err
	}

	if outcome.ModelErr == nil && firstTurn {
		if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
			return v.MarkDocumentAttached(sessionID)
		}); err != nil {
			log.Warn("view state not persisted", zap.Error(err))
		}
	}
	if html == "" {
		html = s.renderPlain(outcome.Reply().Content)
	}
	return &ChatReply{Messages: outcome.Messages, Reply: outcome.Reply(), HTML: html}, nil
}

// committer mirrors a transcript into the view cache and forwards it to
// onUpdate, writing it under its session id when persist is set. Sessions that
// are no longer current still receive the write.
func (s *ChatService) committer(sessionID string, onUpdate UpdateFunc) CommitFunc {
	return func(ctx context.Context, msgs []store.Message, persist bool) error {
		if persist {
			if _, err := s.sessions.UpdateSession(ctx, sessionID, func(ps *store.PdfSession) error {
				ps.Messages = msgs
				return nil
			}); err != nil {
				return err
			}
		}
		if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
			return v.SetChatMessagesForSession(sessionID, msgs)
		}); err != nil {
			s.log.Warn("view state not persisted", zap.String("session_id", sessionID), zap.Error(err))
		}
		if onUpdate != nil {
			onUpdate(msgs)
		}
		return nil
	}
}

// renderPlain renders text without a line index; errors fall back to nothing.
func (s *ChatService) renderPlain(text string) string {
	rendered, err := s.renderer.Render(text, nil)
	if err != nil {
		return ""
	}
	return rendered.HTML
}

// Messages returns the stored main-chat transcript of a session with each AI
// turn rendered.
func (s *ChatService) Messages(ctx context.Context, sessionID string) ([]RenderedMessage, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return renderMessages(s.renderer, session.Messages, citation.IndexLines(session.AnalysisData), s.log), nil
}

type RenderedMessage struct {
	store.Message
	HTML string `json:"html,omitempty"`
}

func renderMessages(r *citation.Renderer, msgs []store.Message, index citation.LineIndex, log *zap.Logger) []RenderedMessage {
	out := make([]RenderedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = RenderedMessage{Message: m}
		if m.Role != store.RoleAI || m.Content == "" {
			continue
		}
		rendered, err := r.Render(m.Content, index)
		if err != nil {
			log.Warn("citation rendering failed", zap.Error(err))
			continue
		}
		out[i].HTML = rendered.HTML
	}
	return out
}
