package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/pdfinfo"
	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

// SessionStore is the durable per-device session storage.
type SessionStore interface {
	NewSessionID() string
	GetSessions(ctx context.Context) ([]store.PdfSession, error)
	GetSession(ctx context.Context, id string) (*store.PdfSession, error)
	SaveSession(ctx context.Context, session *store.PdfSession) error
	DeleteSession(ctx context.Context, id string) error
	UpdateSession(ctx context.Context, id string, fn func(*store.PdfSession) error) (*store.PdfSession, error)
}

type SessionService struct {
	sessions SessionStore
	view     *viewstate.Store
	log      *zap.Logger
}

func NewSessionService(sessions SessionStore, view *viewstate.Store, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{sessions: sessions, view: view, log: logger}
}

// CreateSession stores an uploaded document as a new session and makes it current.
func (s *SessionService) CreateSession(ctx context.Context, fileName string, pdf []byte) (*store.PdfSession, error) {
	if !pdfinfo.IsPDF(pdf) {
		return nil, fmt.Errorf("%w: %s", ErrValidation, pdfinfo.ErrNotPDF)
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		fileName = "document.pdf"
	}

	pageCount, err := pdfinfo.PageCount(pdf)
	if err != nil {
		s.log.Warn("could not count pages", zap.String("file_name", fileName), zap.Error(err))
		pageCount = 0
	}

	session := &store.PdfSession{
		ID:        s.sessions.NewSessionID(),
		FileName:  fileName,
		PdfBase64: base64.StdEncoding.EncodeToString(pdf),
		PageCount: pageCount,
		Messages:  []store.Message{},
		CreatedAt: store.NowMillis(),
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		return v.AddSession(session.ID).SelectSession(session)
	}); err != nil {
		s.log.Warn("view state not persisted", zap.String("session_id", session.ID), zap.Error(err))
	}
	s.log.Info("session created",
		zap.String("session_id", session.ID), zap.String("file_name", fileName), zap.Int("page_count", pageCount))
	return session, nil
}

// ListSessions returns the valid stored sessions, newest first, and syncs the
// view's session list with them.
func (s *SessionService) ListSessions(ctx context.Context) ([]store.PdfSession, error) {
	sessions, err := s.sessions.GetSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	ids := make([]string, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
	}
	if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		return v.SetSessionIDs(ids)
	}); err != nil {
		s.log.Warn("view state not persisted", zap.Error(err))
	}
	return sessions, nil
}

func (s *SessionService) GetSession(ctx context.Context, id string) (*store.PdfSession, error) {
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionService) DeleteSession(ctx context.Context, id string) error {
	if err := s.sessions.DeleteSession(ctx, id); err != nil {
		return err
	}
	if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		return v.RemoveSession(id)
	}); err != nil {
		s.log.Warn("view state not persisted", zap.String("session_id", id), zap.Error(err))
	}
	s.log.Info("session deleted", zap.String("session_id", id))
	return nil
}

// SelectSession makes a stored session current. Its next chat turn carries
// the document again.
func (s *SessionService) SelectSession(ctx context.Context, id string) (viewstate.State, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return viewstate.State{}, err
	}
	next, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		return v.SelectSession(session)
	})
	if err != nil {
		s.log.Warn("view state not persisted", zap.String("session_id", id), zap.Error(err))
	}
	return next, nil
}

// Restore rebuilds the current session's view fields after the view's
// pointers were loaded. A pointer to a session that no longer exists is
// cleared.
func (s *SessionService) Restore(ctx context.Context) (viewstate.State, error) {
	id := s.view.Snapshot().CurrentSessionID
	if id == "" {
		return s.view.Snapshot(), nil
	}
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return s.view.Snapshot(), err
	}
	if session == nil {
		s.log.Info("restored session is gone", zap.String("session_id", id))
		return s.view.Update(ctx, viewstate.State.Reset)
	}
	return s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		return v.SelectSession(session)
	})
}

// Reset clears the current document from the view.
func (s *SessionService) Reset(ctx context.Context) (viewstate.State, error) {
	return s.view.Update(ctx, viewstate.State.Reset)
}

func (s *SessionService) View() viewstate.State {
	return s.view.Snapshot()
}

// ViewPatch carries optional view changes; nil fields are left alone.
type ViewPatch struct {
	PageNumber     *int  `json:"pageNumber"`
	IsSidebarOpen  *bool `json:"isSidebarOpen"`
	IsKeyModalOpen *bool `json:"isKeyModalOpen"`
}

func (s *SessionService) PatchView(ctx context.Context, patch ViewPatch) (viewstate.State, error) {
	pageCount := 0
	if cur := s.view.Snapshot().CurrentSessionID; cur != "" && patch.PageNumber != nil {
		if session, err := s.sessions.GetSession(ctx, cur); err == nil && session != nil {
			pageCount = session.PageCount
		}
	}
	return s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		if patch.PageNumber != nil {
			v = v.SetPageNumber(*patch.PageNumber, pageCount)
		}
		if patch.IsSidebarOpen != nil {
			v = v.SetIsSidebarOpen(*patch.IsSidebarOpen)
		}
		if patch.IsKeyModalOpen != nil {
			v = v.SetIsKeyModalOpen(*patch.IsKeyModalOpen)
		}
		return v
	})
}

// loadWithPDF fetches a session and decodes its document bytes.
func loadWithPDF(ctx context.Context, sessions SessionStore, id string) (*store.PdfSession, []byte, error) {
	session, err := sessions.GetSession(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if session == nil {
		return nil, nil, ErrSessionNotFound
	}
	if session.PdfBase64 == "" {
		return nil, nil, fmt.Errorf("%w: session %s has no document", ErrValidation, id)
	}
	pdf, err := base64.StdEncoding.DecodeString(session.PdfBase64)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stored document is not base64: %v", ErrValidation, err)
	}
	return session, pdf, nil
}
