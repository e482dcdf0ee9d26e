package core

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/analysis"
	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

type AnalysisService struct {
	sessions SessionStore
	view     *viewstate.Store
	gen      Generator
	log      *zap.Logger
}

func NewAnalysisService(sessions SessionStore, view *viewstate.Store, gen Generator, logger *zap.Logger) *AnalysisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisService{sessions: sessions, view: view, gen: gen, log: logger}
}

// Analyze runs the one-shot document analysis and stores the normalized
// result on the session. A failed call or unparseable output leaves the
// stored analysis untouched. There are no retries.
func (s *AnalysisService) Analyze(ctx context.Context, sessionID string) (*store.AnalysisData, error) {
	session, pdf, err := loadWithPDF(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("session_id", sessionID))

	s.setAnalyzing(ctx, sessionID, true)
	defer s.setAnalyzing(ctx, sessionID, false)

	reply, err := s.gen.Generate(ctx, Request{
		System: analysisSystemPrompt,
		Parts: []Part{
			TextPart(analysisUserPrompt),
			BlobPart("application/pdf", pdf),
		},
		JSON: true,
	})
	if err != nil {
		log.Error("analysis call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	if reply.Text == "" {
		return nil, fmt.Errorf("%w: %w: empty response", ErrAnalysis, ErrModelCall)
	}

	raw, err := analysis.Parse(reply.Text)
	if err != nil {
		log.Error("analysis output rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAnalysis, err)
	}
	data := analysis.Normalize(raw, session.FileName)
	data = analysis.ClampPages(data, session.PageCount)

	updated, err := s.sessions.UpdateSession(ctx, sessionID, func(ps *store.PdfSession) error {
		ps.AnalysisData = &data
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to persist analysis: %w", err)
	}

	if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		if v.CurrentSessionID != sessionID {
			return v
		}
		return v.SetAnalysisData(updated.AnalysisData)
	}); err != nil {
		log.Warn("view state not persisted", zap.Error(err))
	}
	log.Info("analysis stored", zap.Int("summaries", len(data.Summaries)), zap.Int("keywords", len(data.Keywords)))
	return updated.AnalysisData, nil
}

func (s *AnalysisService) setAnalyzing(ctx context.Context, sessionID string, on bool) {
	_, _ = s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		if v.CurrentSessionID != sessionID {
			return v
		}
		return v.SetIsAnalyzing(on)
	})
}
