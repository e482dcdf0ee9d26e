package core

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gwi.com/pdf-assistant/internal/imaging"
	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

// defaultImageChatKey holds the image chat when no session is open.
const defaultImageChatKey = "default-image-chat"

// ImageChatService runs the per-session image generation chat. Its history
// lives in the view state only and is not written to the session store.
type ImageChatService struct {
	view       *viewstate.Store
	gen        Generator
	classifier *TwoStageClassifier
	reconciler *Reconciler
	imageModel string
	log        *zap.Logger
}

func NewImageChatService(view *viewstate.Store, gen Generator, reconciler *Reconciler, imageModel string, logger *zap.Logger) *ImageChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := NewTwoStageClassifier(
		NewModelClassifier(gen, "", imageChatClassifierInput),
		RuleClassifier{Patterns: imageChatImagePatterns, AttachmentMeansImage: true},
		false,
		logger,
	)
	return &ImageChatService{
		view:       view,
		gen:        gen,
		classifier: classifier,
		reconciler: reconciler,
		imageModel: imageModel,
		log:        logger,
	}
}

func chatKey(sessionID string) string {
	if sessionID == "" {
		return defaultImageChatKey
	}
	return sessionID
}

func (s *ImageChatService) History(sessionID string) []store.Message {
	return store.CloneMessages(s.view.Snapshot().ImageChatBySession[chatKey(sessionID)])
}

// Send adds one request to the image chat. attachment is an optional image
// data URL the user attached; a request may consist of the attachment alone.
func (s *ImageChatService) Send(ctx context.Context, sessionID, content, attachment string, onUpdate UpdateFunc) ([]store.Message, error) {
	key := chatKey(sessionID)
	log := s.log.With(zap.String("session_id", key))

	var attached *imaging.DataURL
	if strings.TrimSpace(attachment) != "" {
		parsed, err := imaging.ParseDataURL(attachment, "image/png")
		if err != nil {
			return nil, fmt.Errorf("%w: attachment: %v", ErrValidation, err)
		}
		attached = &parsed
	}

	content = strings.TrimSpace(content)
	if content == "" {
		if attached == nil {
			return nil, fmt.Errorf("%w: empty request", ErrValidation)
		}
		content = imageChatAttachmentOnly
	}

	user := store.Message{Role: store.RoleUser, Content: content}
	if attached != nil {
		user.ImageDataURL = attached.String()
	}
	history := append(s.History(sessionID), user)
	commit := s.committer(key, onUpdate)
	if err := commit(ctx, history, true); err != nil {
		return nil, err
	}

	intent := s.classifier.Classify(ctx, ClassifyInput{Text: content, HasAttachment: attached != nil})
	if intent == IntentImage {
		final := append(history, s.generateImage(ctx, content, attached, log))
		if err := commit(ctx, final, true); err != nil {
			return nil, err
		}
		return final, nil
	}

	parts := []Part{TextPart(imageChatTextPrompt(history, content))}
	if attached != nil {
		parts = append(parts, BlobPart(attached.MIMEType, attached.Data))
	}
	outcome, err := s.reconciler.Run(ctx, Turn{
		History: history,
		Open: func(ctx context.Context) (TextStream, error) {
			return s.gen.Stream(ctx, Request{System: imageChatSystemPrompt, Parts: parts})
		},
		Commit:    commit,
		ErrorText: imageChatErrorText,
	})
	if err != nil {
		return nil, err
	}
	return outcome.Messages, nil
}

func (s *ImageChatService) generateImage(ctx context.Context, content string, attached *imaging.DataURL, log *zap.Logger) store.Message {
	parts := []Part{TextPart(imageChatImagePrompt(content, attached != nil))}
	if attached != nil {
		parts = append(parts, BlobPart(attached.MIMEType, attached.Data))
	}
	reply, err := s.gen.Generate(ctx, Request{Model: s.imageModel, Parts: parts})
	if err != nil {
		log.Warn("image generation failed", zap.Error(err))
		return store.Message{Role: store.RoleAI, Content: imageChatErrorText}
	}
	if len(reply.Images) == 0 {
		return store.Message{Role: store.RoleAI, Content: imageChatImageFailed}
	}
	return store.Message{Role: store.RoleAI, Content: imageChatImageDone, ImageDataURL: reply.Images[0].String()}
}

// committer keeps the history in the view only, so persist changes nothing.
func (s *ImageChatService) committer(key string, onUpdate UpdateFunc) CommitFunc {
	return func(ctx context.Context, msgs []store.Message, _ bool) error {
		if _, err := s.view.Update(ctx, func(v viewstate.State) viewstate.State {
			return v.SetImageChatForSession(key, msgs)
		}); err != nil {
			// only the pointers are persisted; the in-memory history is already updated
			s.log.Warn("view state not persisted", zap.String("session_id", key), zap.Error(err))
		}
		if onUpdate != nil {
			onUpdate(msgs)
		}
		return nil
	}
}
