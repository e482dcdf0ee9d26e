package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/analysis"
	"gwi.com/pdf-assistant/internal/imaging"
	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

const (
	// MinCaptureSize is the smallest selection edge, in selection pixels,
	// that counts as a capture rather than a click.
	MinCaptureSize = 20
	// panelOffset places the region chat below the captured rectangle.
	panelOffset = 15
)

// CaptureRequest describes a drag selection over a rendered page.
type CaptureRequest struct {
	// PageImage is the rendered page canvas as a data URL.
	PageImage string `json:"pageImage" validate:"required"`
	// Rect is the selection in on-screen pixels relative to the page.
	Rect imaging.Rect `json:"rect"`
	// PixelRatio is canvas pixels per on-screen pixel.
	PixelRatio float64 `json:"pixelRatio" validate:"gte=0"`
	// Scale is the viewer zoom the selection was made at.
	Scale      float64 `json:"scale" validate:"gt=0"`
	PageNumber int     `json:"pageNumber" validate:"gt=0"`
}

type AnnotationService struct {
	sessions   SessionStore
	view       *viewstate.Store
	gen        Generator
	classifier *TwoStageClassifier
	reconciler *Reconciler
	imageModel string
	log        *zap.Logger
}

func NewAnnotationService(sessions SessionStore, view *viewstate.Store, gen Generator, reconciler *Reconciler, imageModel string, logger *zap.Logger) *AnnotationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := NewTwoStageClassifier(
		NewModelClassifier(gen, "", annotationClassifierPrompt),
		RuleClassifier{Patterns: annotationImagePatterns},
		true,
		logger,
	)
	return &AnnotationService{
		sessions:   sessions,
		view:       view,
		gen:        gen,
		classifier: classifier,
		reconciler: reconciler,
		imageModel: imageModel,
		log:        logger,
	}
}

// Capture crops the selection out of the page image and stores a new
// annotation anchored below it. Selections not larger than MinCaptureSize on
// both edges are ignored and yield nil without error.
func (s *AnnotationService) Capture(ctx context.Context, sessionID string, req CaptureRequest) (*store.Annotation, error) {
	if req.Rect.Width <= MinCaptureSize || req.Rect.Height <= MinCaptureSize {
		return nil, nil
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	page, err := imaging.ParseDataURL(req.PageImage, "image/png")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	ratio := req.PixelRatio
	if ratio <= 0 {
		ratio = 1
	}
	cropped, err := imaging.CropDataURL(page, req.Rect, ratio)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	annotation := store.Annotation{
		ID: uuid.NewString(),
		Position: store.Position{
			X:          req.Rect.X / req.Scale,
			Y:          (req.Rect.Y + req.Rect.Height + panelOffset) / req.Scale,
			Width:      req.Rect.Width / req.Scale,
			Height:     req.Rect.Height / req.Scale,
			PageNumber: req.PageNumber,
		},
		ImageOriginBase64: cropped,
		Messages:          []store.Message{},
		CreatedAt:         store.NowMillis(),
	}
	if _, err := s.mutate(ctx, sessionID, func(ps *store.PdfSession) error {
		ps.Annotations = append(ps.Annotations, annotation)
		return nil
	}); err != nil {
		return nil, err
	}
	s.log.Info("annotation captured",
		zap.String("session_id", sessionID), zap.String("annotation_id", annotation.ID), zap.Int("page", req.PageNumber))
	return &annotation, nil
}

// Create captures a region and runs its initial turn. It returns nil for
// selections below the threshold.
func (s *AnnotationService) Create(ctx context.Context, sessionID string, req CaptureRequest, onUpdate UpdateFunc) (*store.Annotation, error) {
	annotation, err := s.Capture(ctx, sessionID, req)
	if err != nil || annotation == nil {
		return annotation, err
	}
	return s.SendTurn(ctx, sessionID, annotation.ID, annotationInitialContent, true, onUpdate)
}

// SendTurn runs one turn of a region chat. The initial turn adds no user
// message, carries the document digest and is never classified; it is a
// no-op once the annotation has messages. Callers must not overlap turns on
// the same annotation.
func (s *AnnotationService) SendTurn(ctx context.Context, sessionID, annotationID, content string, initial bool, onUpdate UpdateFunc) (*store.Annotation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty message", ErrValidation)
	}
	session, annotation, err := s.find(ctx, sessionID, annotationID)
	if err != nil {
		return nil, err
	}
	if initial && len(annotation.Messages) > 0 {
		return annotation, nil
	}
	log := s.log.With(zap.String("session_id", sessionID), zap.String("annotation_id", annotationID))

	image, err := imaging.ParseDataURL(annotation.ImageOriginBase64, "image/png")
	if err != nil {
		return nil, fmt.Errorf("%w: stored region image: %v", ErrValidation, err)
	}

	history := store.CloneMessages(annotation.Messages)
	commit := s.committer(sessionID, annotationID, onUpdate)
	if !initial {
		history = append(history, store.Message{Role: store.RoleUser, Content: content})
		if err := commit(ctx, history, true); err != nil {
			return nil, fmt.Errorf("failed to store user message: %w", err)
		}
	}

	intent := IntentText
	if !initial {
		intent = s.classifier.Classify(ctx, ClassifyInput{Text: content, HasAttachment: true})
	}

	var final []store.Message
	if intent == IntentImage {
		final = append(history, s.generateImage(ctx, content, image, log))
		if err := commit(ctx, final, true); err != nil {
			return nil, fmt.Errorf("failed to store reply: %w", err)
		}
	} else {
		digest := ""
		if initial {
			digest = analysis.Digest(session.AnalysisData, session.FileName, analysis.AnnotationDigest)
		}
		prompt := annotationPrompt(digest, history, content, initial)
		outcome, err := s.reconciler.Run(ctx, Turn{
			History: history,
			Open: func(ctx context.Context) (TextStream, error) {
				return s.gen.Stream(ctx, Request{Parts: []Part{TextPart(prompt), BlobPart(image.MIMEType, image.Data)}})
			},
			Commit:    commit,
			ErrorText: annotationErrorText,
		})
		if err != nil {
			return nil, err
		}
		final = outcome.Messages
	}

	annotation.Messages = final
	return annotation, nil
}

func (s *AnnotationService) generateImage(ctx context.Context, content string, source imaging.DataURL, log *zap.Logger) store.Message {
	reply, err := s.gen.Generate(ctx, Request{
		Model: s.imageModel,
		Parts: []Part{TextPart(annotationImagePrompt(content)), BlobPart(source.MIMEType, source.Data)},
	})
	if err != nil {
		log.Warn("image generation failed", zap.Error(err))
		return store.Message{Role: store.RoleAI, Content: annotationErrorText}
	}
	if len(reply.Images) == 0 {
		return store.Message{Role: store.RoleAI, Content: annotationImageFailed}
	}
	return store.Message{Role: store.RoleAI, Content: annotationImageDone, ImageDataURL: reply.Images[0].String()}
}

// Move repositions an annotation; x and y are on-screen coordinates at the
// given zoom. Messages are left untouched.
func (s *AnnotationService) Move(ctx context.Context, sessionID, annotationID string, x, y, scale float64) (*store.Annotation, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("%w: scale must be positive", ErrValidation)
	}
	var moved store.Annotation
	_, err := s.mutate(ctx, sessionID, func(ps *store.PdfSession) error {
		i := ps.FindAnnotation(annotationID)
		if i < 0 {
			return ErrAnnotationNotFound
		}
		ps.Annotations[i].Position.X = x / scale
		ps.Annotations[i].Position.Y = y / scale
		moved = ps.Annotations[i].Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

func (s *AnnotationService) Delete(ctx context.Context, sessionID, annotationID string) error {
	_, err := s.mutate(ctx, sessionID, func(ps *store.PdfSession) error {
		i := ps.FindAnnotation(annotationID)
		if i < 0 {
			return ErrAnnotationNotFound
		}
		ps.Annotations = append(ps.Annotations[:i], ps.Annotations[i+1:]...)
		return nil
	})
	if err == nil {
		s.log.Info("annotation deleted", zap.String("session_id", sessionID), zap.String("annotation_id", annotationID))
	}
	return err
}

func (s *AnnotationService) find(ctx context.Context, sessionID, annotationID string) (*store.PdfSession, *store.Annotation, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, nil, ErrSessionNotFound
	}
	i := session.FindAnnotation(annotationID)
	if i < 0 {
		return nil, nil, ErrAnnotationNotFound
	}
	annotation := session.Annotations[i].Clone()
	return session, &annotation, nil
}

// mutate updates the stored session and mirrors its annotations into the view.
func (s *AnnotationService) mutate(ctx context.Context, sessionID string, fn func(*store.PdfSession) error) (*store.PdfSession, error) {
	updated, err := s.sessions.UpdateSession(ctx, sessionID, fn)
	if err != nil {
		return nil, err
	}
	if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		return v.SetAnnotationsForSession(sessionID, updated.Annotations)
	}); err != nil {
		s.log.Warn("view state not persisted", zap.String("session_id", sessionID), zap.Error(err))
	}
	return updated, nil
}

// committer writes the annotation transcript to the view, and to the stored
// session when persist is set.
func (s *AnnotationService) committer(sessionID, annotationID string, onUpdate UpdateFunc) CommitFunc {
	return func(ctx context.Context, msgs []store.Message, persist bool) error {
		if persist {
			if _, err := s.mutate(ctx, sessionID, func(ps *store.PdfSession) error {
				i := ps.FindAnnotation(annotationID)
				if i < 0 {
					return ErrAnnotationNotFound
				}
				ps.Annotations[i].Messages = msgs
				return nil
			}); err != nil {
				return err
			}
		} else {
			s.viewOnly(ctx, sessionID, annotationID, msgs)
		}
		if onUpdate != nil {
			onUpdate(msgs)
		}
		return nil
	}
}

func (s *AnnotationService) viewOnly(ctx context.Context, sessionID, annotationID string, msgs []store.Message) {
	if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
		cached := v.AnnotationsBySession[sessionID]
		for i := range cached {
			if cached[i].ID != annotationID {
				continue
			}
			next := make([]store.Annotation, len(cached))
			copy(next, cached)
			next[i].Messages = msgs
			return v.SetAnnotationsForSession(sessionID, next)
		}
		return v
	}); err != nil {
		s.log.Warn("view state not persisted", zap.String("session_id", sessionID), zap.Error(err))
	}
}
