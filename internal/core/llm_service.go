package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"gwi.com/pdf-assistant/internal/imaging"
)

// Part is one piece of model input: text, or inline bytes with a MIME type.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

func TextPart(s string) Part { return Part{Text: s} }

func BlobPart(mimeType string, data []byte) Part { return Part{MIMEType: mimeType, Data: data} }

func (p Part) isBlob() bool { return p.MIMEType != "" }

type Request struct {
	// Model overrides the generator's default model.
	Model  string
	System string
	Parts  []Part
	// JSON asks for an application/json response.
	JSON bool
}

type Reply struct {
	Text   string
	Images []imaging.DataURL
}

// TextStream yields incremental text. Next returns iterator.Done once the
// stream is exhausted.
type TextStream interface {
	Next() (string, error)
}

// Generator is the boundary to the generative model.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Reply, error)
	Stream(ctx context.Context, req Request) (TextStream, error)
}

// KeySource supplies the API key for each call.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a fixed server-held key.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	return string(k), nil
}

// KV is the small key-value slot used for the local credential.
type KV interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}

const apiKeySlot = "gemini_api_key"

// SlotKey reads the local credential from its storage slot on every call.
type SlotKey struct {
	KV KV
}

func (s SlotKey) APIKey(ctx context.Context) (string, error) {
	key, _, err := s.KV.GetValue(ctx, apiKeySlot)
	if err != nil {
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	return key, nil
}

func (s SlotKey) SetAPIKey(ctx context.Context, key string) error {
	key = strings.Trim(strings.TrimSpace(key), `"'`)
	if key == "" {
		return fmt.Errorf("%w: empty api key", ErrValidation)
	}
	return s.KV.SetValue(ctx, apiKeySlot, key)
}

// HasAPIKey reports whether the slot holds a key.
func (s SlotKey) HasAPIKey(ctx context.Context) (bool, error) {
	key, err := s.APIKey(ctx)
	return key != "", err
}

type GeminiGenerator struct {
	keys         KeySource
	defaultModel string
	log          *zap.Logger

	mu        sync.Mutex
	client    *genai.Client
	clientKey string
	retired   []*genai.Client
}

func NewGeminiGenerator(keys KeySource, defaultModel string, logger *zap.Logger) *GeminiGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiGenerator{keys: keys, defaultModel: defaultModel, log: logger}
}

// clientFor returns a client for the current key, rebuilding it when the key
// changed. Replaced clients stay open until Close because in-flight streams
// may still use them.
func (g *GeminiGenerator) clientFor(ctx context.Context) (*genai.Client, error) {
	key, err := g.keys.APIKey(ctx)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil && g.clientKey == key {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GenAI client: %v", ErrModelCall, err)
	}
	if g.client != nil {
		g.retired = append(g.retired, g.client)
		g.log.Info("GenAI client rebuilt for a new api key")
	}
	g.client, g.clientKey = client, key
	return client, nil
}

func (g *GeminiGenerator) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range append(g.retired, g.client) {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			g.log.Warn("error closing GenAI client", zap.Error(err))
		}
	}
	g.client, g.retired = nil, nil
	g.log.Info("GenAI client closed")
}

func (g *GeminiGenerator) model(client *genai.Client, req Request) *genai.GenerativeModel {
	name := req.Model
	if name == "" {
		name = g.defaultModel
	}
	model := client.GenerativeModel(name)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}
	return model
}

func toGenaiParts(parts []Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.isBlob() {
			out = append(out, genai.Blob{MIMEType: p.MIMEType, Data: p.Data})
			continue
		}
		out = append(out, genai.Text(p.Text))
	}
	return out
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Reply, error) {
	client, err := g.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := g.model(client, req).GenerateContent(ctx, toGenaiParts(req.Parts)...)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini request failed: %v", ErrModelCall, err)
	}

	reply := &Reply{}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				text.WriteString(string(p))
			case genai.Blob:
				if strings.HasPrefix(p.MIMEType, "image/") && len(p.Data) > 0 {
					reply.Images = append(reply.Images, imaging.DataURL{MIMEType: p.MIMEType, Data: p.Data})
				}
			}
		}
		// the first candidate carrying content is the answer
		if text.Len() > 0 || len(reply.Images) > 0 {
			break
		}
	}
	reply.Text = text.String()
	return reply, nil
}

func (g *GeminiGenerator) Stream(ctx context.Context, req Request) (TextStream, error) {
	client, err := g.clientFor(ctx)
	if err != nil {
		return nil, err
	}
	it := g.model(client, req).GenerateContentStream(ctx, toGenaiParts(req.Parts)...)
	return &geminiStream{it: it}, nil
}

type geminiStream struct {
	it *genai.GenerateContentResponseIterator
}

func (s *geminiStream) Next() (string, error) {
	resp, err := s.it.Next()
	if errors.Is(err, iterator.Done) {
		return "", iterator.Done
	}
	if err != nil {
		return "", fmt.Errorf("%w: gemini stream failed: %v", ErrModelCall, err)
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}
	return text.String(), nil
}
