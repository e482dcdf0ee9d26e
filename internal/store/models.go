package store

import (
	"bytes"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// ReferenceLine is a claim paired with the 1-based pages supporting it.
type ReferenceLine struct {
	Text  string `json:"text" validate:"required"`
	Pages []int  `json:"pages" validate:"dive,gt=0"`
}

// Body is the content of a summary or of the issue list: either Prose or Cited.
type Body interface {
	isBody()
}

// Prose is free text (legacy model output).
type Prose string

// Cited is an ordered list of claims with page citations.
type Cited []ReferenceLine

func (Prose) isBody() {}
func (Cited) isBody() {}

type SummaryVariant struct {
	Title string `json:"title"`
	Body  Body   `json:"-"`
}

type summaryWire struct {
	Title   string          `json:"title"`
	Content *string         `json:"content,omitempty"`
	Lines   []ReferenceLine `json:"lines,omitempty"`
}

func (s SummaryVariant) MarshalJSON() ([]byte, error) {
	w := summaryWire{Title: s.Title}
	switch b := s.Body.(type) {
	case Cited:
		w.Lines = b
	case Prose:
		text := string(b)
		w.Content = &text
	default:
		empty := ""
		w.Content = &empty
	}
	return json.Marshal(w)
}

func (s *SummaryVariant) UnmarshalJSON(data []byte) error {
	var w summaryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Title = w.Title
	switch {
	case len(w.Lines) > 0:
		s.Body = Cited(w.Lines)
	case w.Content != nil:
		s.Body = Prose(*w.Content)
	default:
		s.Body = Prose("")
	}
	return nil
}

// Lines returns the cited lines of the summary, or nil for prose.
func (s SummaryVariant) Lines() []ReferenceLine {
	if c, ok := s.Body.(Cited); ok {
		return c
	}
	return nil
}

type AnalysisData struct {
	Title     string           `json:"title"`
	Summaries []SummaryVariant `json:"summaries" validate:"dive"`
	Keywords  []string         `json:"keywords"`
	Insights  string           `json:"insights"`
	Issues    Body             `json:"-"`
}

type analysisWire struct {
	Title     string           `json:"title"`
	Summaries []SummaryVariant `json:"summaries"`
	Keywords  []string         `json:"keywords"`
	Insights  string           `json:"insights"`
	Issues    json.RawMessage  `json:"issues"`
}

func (a AnalysisData) MarshalJSON() ([]byte, error) {
	var issues any = ""
	switch b := a.Issues.(type) {
	case Cited:
		issues = []ReferenceLine(b)
	case Prose:
		issues = string(b)
	}
	raw, err := json.Marshal(issues)
	if err != nil {
		return nil, err
	}
	return json.Marshal(analysisWire{
		Title:     a.Title,
		Summaries: a.Summaries,
		Keywords:  a.Keywords,
		Insights:  a.Insights,
		Issues:    raw,
	})
}

func (a *AnalysisData) UnmarshalJSON(data []byte) error {
	var w analysisWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	a.Title = w.Title
	a.Summaries = w.Summaries
	a.Keywords = w.Keywords
	a.Insights = w.Insights
	a.Issues = Prose("")

	trimmed := bytes.TrimSpace(w.Issues)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '[':
		var lines []ReferenceLine
		if err := json.Unmarshal(trimmed, &lines); err != nil {
			return err
		}
		a.Issues = Cited(lines)
	default:
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		a.Issues = Prose(text)
	}
	return nil
}

// IssueLines returns the structured issue list, or nil when issues are free text.
func (a AnalysisData) IssueLines() []ReferenceLine {
	if c, ok := a.Issues.(Cited); ok {
		return c
	}
	return nil
}

// Message is one turn of the main chat, an annotation chat or the image chat.
// ImageDataURL carries a generated image (AI turns) or an attachment (user turns).
type Message struct {
	Role         Role   `json:"role" validate:"oneof=user ai"`
	Content      string `json:"content"`
	Citations    []int  `json:"citations,omitempty" validate:"omitempty,dive,gt=0"`
	ImageDataURL string `json:"imageDataUrl,omitempty"`
}

// Position is stored in document points (zoom scale 1.0).
type Position struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	PageNumber int     `json:"pageNumber" validate:"gt=0"`
}

type Annotation struct {
	ID                string    `json:"id" validate:"required"`
	Position          Position  `json:"position"`
	ImageOriginBase64 string    `json:"imageOriginBase64"`
	Messages          []Message `json:"messages" validate:"dive"`
	CreatedAt         int64     `json:"createdAt"`
}

type PdfSession struct {
	ID           string        `json:"id" validate:"required"`
	FileName     string        `json:"fileName"`
	PdfBase64    string        `json:"pdfBase64"`
	PageCount    int           `json:"pageCount,omitempty" validate:"gte=0"`
	AnalysisData *AnalysisData `json:"analysisData"`
	Messages     []Message     `json:"messages" validate:"dive"`
	Annotations  []Annotation  `json:"annotations,omitempty" validate:"dive"`
	CreatedAt    int64         `json:"createdAt"` // unix millis
}

// Clone copies the mutable parts of the session. AnalysisData is immutable once
// computed and is shared.
func (s *PdfSession) Clone() *PdfSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = CloneMessages(s.Messages)
	if s.Annotations != nil {
		c.Annotations = make([]Annotation, len(s.Annotations))
		for i, a := range s.Annotations {
			c.Annotations[i] = a.Clone()
		}
	}
	return &c
}

func (a Annotation) Clone() Annotation {
	a.Messages = CloneMessages(a.Messages)
	return a
}

func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// FindAnnotation returns the index of the annotation with the given id, or -1.
func (s *PdfSession) FindAnnotation(id string) int {
	for i := range s.Annotations {
		if s.Annotations[i].ID == id {
			return i
		}
	}
	return -1
}

func NowMillis() int64 {
	return time.Now().UnixMilli()
}
