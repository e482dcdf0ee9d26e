package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

type Intent int

const (
	IntentText Intent = iota
	IntentImage
)

func (i Intent) String() string {
	if i == IntentImage {
		return "IMAGE"
	}
	return "TEXT"
}

type ClassifyInput struct {
	Text          string
	HasAttachment bool
}

// Classifier decides whether a request asks for an image or a text reply.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Intent, error)
}

// ModelClassifier asks the model to answer IMAGE or TEXT.
type ModelClassifier struct {
	gen    Generator
	model  string
	prompt func(ClassifyInput) string
}

func NewModelClassifier(gen Generator, model string, prompt func(ClassifyInput) string) *ModelClassifier {
	return &ModelClassifier{gen: gen, model: model, prompt: prompt}
}

func (c *ModelClassifier) Classify(ctx context.Context, in ClassifyInput) (Intent, error) {
	reply, err := c.gen.Generate(ctx, Request{
		Model: c.model,
		Parts: []Part{TextPart(c.prompt(in))},
	})
	if err != nil {
		return IntentText, fmt.Errorf("classifier call failed: %w", err)
	}
	if strings.Contains(strings.ToUpper(strings.TrimSpace(reply.Text)), "IMAGE") {
		return IntentImage, nil
	}
	return IntentText, nil
}

var (
	annotationImagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)이미지\S*\s*(생성|만들|그려)`),
		regexp.MustCompile(`(?i)그림\S*\s*(생성|만들|그려)`),
		regexp.MustCompile(`(?i)(create|generate|draw)\s+(an?\s+)?(image|picture)`),
		regexp.MustCompile(`(?i)(image|picture)\s+(create|generate|draw)`),
	}
	imageChatImagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)이미지\S*\s*(생성|만들|그려|제작)`),
		regexp.MustCompile(`(?i)그림\S*\s*(생성|만들|그려|제작)`),
		regexp.MustCompile(`(?i)(create|generate|draw|make)\s+(an?\s+)?(image|picture|infographic)`),
		regexp.MustCompile(`(?i)(image|picture|infographic)\s+(create|generate|draw|make)`),
	}
)

// RuleClassifier matches a fixed phrase list. It never fails.
type RuleClassifier struct {
	Patterns []*regexp.Regexp
	// AttachmentMeansImage treats any attached image as an image request.
	AttachmentMeansImage bool
}

func (c RuleClassifier) Classify(_ context.Context, in ClassifyInput) (Intent, error) {
	if c.AttachmentMeansImage && in.HasAttachment {
		return IntentImage, nil
	}
	text := strings.ToLower(strings.TrimSpace(in.Text))
	if text == "" {
		return IntentText, nil
	}
	for _, p := range c.Patterns {
		if p.MatchString(text) {
			return IntentImage, nil
		}
	}
	return IntentText, nil
}

// TwoStageClassifier consults the primary classifier and falls back to the
// rules when it fails. With Union set, a rule match also wins over a TEXT
// verdict from the primary.
type TwoStageClassifier struct {
	Primary  Classifier
	Fallback RuleClassifier
	Union    bool
	log      *zap.Logger
}

func NewTwoStageClassifier(primary Classifier, fallback RuleClassifier, union bool, logger *zap.Logger) *TwoStageClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwoStageClassifier{Primary: primary, Fallback: fallback, Union: union, log: logger}
}

// Classify always yields an intent.
func (c *TwoStageClassifier) Classify(ctx context.Context, in ClassifyInput) Intent {
	ruled, _ := c.Fallback.Classify(ctx, in)
	if c.Primary == nil {
		return ruled
	}
	intent, err := c.Primary.Classify(ctx, in)
	if err != nil {
		c.log.Warn("intent classification degraded to rules", zap.Error(err))
		return ruled
	}
	if c.Union && ruled == IntentImage {
		return IntentImage
	}
	return intent
}
