package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/analysis"
	"gwi.com/pdf-assistant/internal/auth"
	"gwi.com/pdf-assistant/internal/store"
)

const MaxShareChatLimit = 200

var validate = validator.New(validator.WithRequiredStructEnabled())

// ShareStore is the relay's table of shared snapshots.
type ShareStore interface {
	CreateSharedSession(ctx context.Context, shared *store.SharedSession) error
	FindSharedSessionByPublicID(ctx context.Context, publicID string) (*store.SharedSession, error)
	ConsumeChatQuota(ctx context.Context, publicID string) (*store.SharedSession, error)
}

type CreateShareRequest struct {
	SessionID      string `json:"sessionId" validate:"required"`
	Password       string `json:"password" validate:"required"`
	ChatLimitTotal int    `json:"chatLimitTotal" validate:"gte=0,lte=200"`
}

type ShareLink struct {
	PublicID string `json:"publicId"`
	ShareURL string `json:"shareUrl"`
}

// sharedPayload is the snapshot stored with a share.
type sharedPayload struct {
	FileName     string              `json:"fileName"`
	AnalysisData *store.AnalysisData `json:"analysisData"`
	Messages     []store.Message     `json:"messages"`
	Annotations  []store.Annotation  `json:"annotations"`
	CreatedAt    int64               `json:"createdAt"`
}

type SharedView struct {
	PublicID           string          `json:"publicId"`
	Payload            json.RawMessage `json:"payload"`
	PdfBase64          string          `json:"pdfBase64"`
	ChatLimitTotal     int             `json:"chatLimitTotal"`
	ChatLimitUsed      int             `json:"chatLimitUsed"`
	ChatLimitRemaining int             `json:"chatLimitRemaining"`
	CreatedAt          time.Time       `json:"createdAt"`
	// Token lets the viewer chat without resending the password.
	Token string `json:"token"`
}

type SharedChatRequest struct {
	PublicID string          `json:"publicId" validate:"required,uuid"`
	Password string          `json:"password"`
	Token    string          `json:"token"`
	Message  string          `json:"message" validate:"required"`
	History  []store.Message `json:"history" validate:"dive"`
}

type SharedChatReply struct {
	Answer             string `json:"answer"`
	ChatLimitTotal     int    `json:"chatLimitTotal"`
	ChatLimitUsed      int    `json:"chatLimitUsed"`
	ChatLimitRemaining int    `json:"chatLimitRemaining"`
}

// ShareService is the password-gated relay for read-only session snapshots.
// It answers with its own generator, never the local credential.
type ShareService struct {
	sessions     SessionStore
	shares       ShareStore
	gen          Generator
	publicAppURL string
	log          *zap.Logger
}

func NewShareService(sessions SessionStore, shares ShareStore, gen Generator, publicAppURL string, logger *zap.Logger) *ShareService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShareService{
		sessions:     sessions,
		shares:       shares,
		gen:          gen,
		publicAppURL: strings.TrimRight(publicAppURL, "/"),
		log:          logger,
	}
}

// Create snapshots a local session into the relay. origin is used for the
// share URL when no public URL is configured.
func (s *ShareService) Create(ctx context.Context, req CreateShareRequest, origin string) (*ShareLink, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	session, err := s.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", req.SessionID, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	payload, err := json.Marshal(sharedPayload{
		FileName:     session.FileName,
		AnalysisData: session.AnalysisData,
		Messages:     session.Messages,
		Annotations:  session.Annotations,
		CreatedAt:    session.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode share payload: %w", err)
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash share password: %w", err)
	}

	shared := &store.SharedSession{
		ID:             uuid.NewString(),
		PublicID:       uuid.NewString(),
		PasswordHash:   hash,
		PdfBase64:      session.PdfBase64,
		Payload:        payload,
		ChatLimitTotal: req.ChatLimitTotal,
	}
	if err := s.shares.CreateSharedSession(ctx, shared); err != nil {
		return nil, err
	}

	base := s.publicAppURL
	if base == "" {
		base = strings.TrimRight(origin, "/")
	}
	s.log.Info("session shared", zap.String("session_id", session.ID), zap.String("public_id", shared.PublicID))
	return &ShareLink{PublicID: shared.PublicID, ShareURL: base + "/s/" + shared.PublicID}, nil
}

// Open returns the snapshot when the password matches.
func (s *ShareService) Open(ctx context.Context, publicID, password string) (*SharedView, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrValidation)
	}
	if err := validate.Var(publicID, "required,uuid"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	shared, err := s.shares.FindSharedSessionByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if shared == nil || !auth.CheckPasswordHash(password, shared.PasswordHash) {
		return nil, ErrShareNotFound
	}
	token, err := auth.GenerateShareToken(publicID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue viewer token: %w", err)
	}
	return &SharedView{
		PublicID:           shared.PublicID,
		Payload:            shared.Payload,
		PdfBase64:          shared.PdfBase64,
		ChatLimitTotal:     shared.ChatLimitTotal,
		ChatLimitUsed:      shared.ChatLimitUsed,
		ChatLimitRemaining: max(0, shared.ChatLimitTotal-shared.ChatLimitUsed),
		CreatedAt:          shared.CreatedAt,
		Token:              token,
	}, nil
}

// Chat answers one question about a shared snapshot. The quota is charged
// before the model call and is not refunded when the call fails.
func (s *ShareService) Chat(ctx context.Context, req SharedChatRequest) (*SharedChatReply, error) {
	req.Message = strings.TrimSpace(req.Message)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.authorize(ctx, req); err != nil {
		return nil, err
	}

	shared, err := s.shares.ConsumeChatQuota(ctx, req.PublicID)
	if err != nil {
		return nil, err
	}
	if shared == nil {
		return nil, ErrQuotaExceeded
	}
	log := s.log.With(zap.String("public_id", req.PublicID))

	var payload sharedPayload
	if err := json.Unmarshal(shared.Payload, &payload); err != nil {
		log.Warn("shared payload unreadable", zap.Error(err))
	}
	fileName := payload.FileName
	if fileName == "" {
		fileName = "공유 문서"
	}
	data := payload.AnalysisData
	if data == nil {
		data = &store.AnalysisData{}
	}
	digest := analysis.Digest(data, fileName, analysis.SharedDigest)
	history := append(store.CloneMessages(req.History), store.Message{Role: store.RoleUser, Content: req.Message})

	reply, err := s.gen.Generate(ctx, Request{Parts: []Part{TextPart(sharedChatPrompt(digest, history))}})
	if err != nil {
		log.Error("shared chat call failed", zap.Error(err))
		return nil, err
	}
	answer := strings.TrimSpace(reply.Text)
	if answer == "" {
		answer = sharedFallbackText
	}
	return &SharedChatReply{
		Answer:             answer,
		ChatLimitTotal:     shared.ChatLimitTotal,
		ChatLimitUsed:      shared.ChatLimitUsed,
		ChatLimitRemaining: max(0, shared.ChatLimitTotal-shared.ChatLimitUsed),
	}, nil
}

// authorize accepts a viewer token issued for this share, or the password.
func (s *ShareService) authorize(ctx context.Context, req SharedChatRequest) error {
	if req.Token != "" && auth.ValidateShareToken(req.Token, req.PublicID) == nil {
		return nil
	}
	if req.Password == "" {
		return ErrShareNotFound
	}
	shared, err := s.shares.FindSharedSessionByPublicID(ctx, req.PublicID)
	if err != nil {
		return err
	}
	if shared == nil || !auth.CheckPasswordHash(req.Password, shared.PasswordHash) {
		return ErrShareNotFound
	}
	return nil
}
