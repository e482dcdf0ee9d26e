// Package analysis turns loosely typed model output into store.AnalysisData.
//
// Normalize never fails: missing or wrong-typed fields coerce to their empty
// form, page lists are coerced to positive integers and de-duplicated, and a
// normalized value normalizes to itself.
package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gwi.com/pdf-assistant/internal/store"
)

const defaultSummaryTitle = "요약"

var ErrUnparseable = errors.New("analysis output is not valid JSON")

var leadingInt = regexp.MustCompile(`^\s*[+-]?\d+`)

// Parse decodes raw model output into a generic JSON value. Markdown code
// fences around the JSON are tolerated. Numbers stay json.Number so an
// out-of-range page value is dropped during normalization instead of failing
// the whole document.
func Parse(raw string) (any, error) {
	b := bytes.TrimSpace([]byte(raw))
	b = bytes.TrimPrefix(b, []byte("```json"))
	b = bytes.TrimPrefix(b, []byte("```"))
	b = bytes.TrimSuffix(b, []byte("```"))
	b = bytes.TrimSpace(b)

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrUnparseable)
	}
	return v, nil
}

// Normalize coerces input into the analysis schema. Input may be a decoded
// JSON value or an already normalized AnalysisData.
func Normalize(input any, fallbackTitle string) store.AnalysisData {
	switch v := input.(type) {
	case store.AnalysisData:
		return Normalize(roundTrip(v), fallbackTitle)
	case *store.AnalysisData:
		if v == nil {
			return Normalize(nil, fallbackTitle)
		}
		return Normalize(roundTrip(*v), fallbackTitle)
	}

	out := store.AnalysisData{
		Title:     fallbackTitle,
		Summaries: []store.SummaryVariant{},
		Keywords:  []string{},
		Insights:  "",
		Issues:    store.Prose(""),
	}

	obj, ok := input.(map[string]any)
	if !ok {
		return out
	}

	if title, ok := obj["title"].(string); ok && strings.TrimSpace(title) != "" {
		out.Title = strings.TrimSpace(title)
	}

	if items, ok := obj["summaries"].([]any); ok {
		for _, item := range items {
			if summary, ok := normalizeSummary(item); ok {
				out.Summaries = append(out.Summaries, summary)
			}
		}
	}

	if keywords, ok := obj["keywords"].([]any); ok {
		seen := make(map[string]struct{}, len(keywords))
		for _, k := range keywords {
			s, ok := k.(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out.Keywords = append(out.Keywords, s)
		}
	}

	if insights, ok := obj["insights"].(string); ok {
		out.Insights = insights
	}

	switch issues := obj["issues"].(type) {
	case []any:
		out.Issues = store.Cited(normalizeLines(issues))
	case string:
		out.Issues = store.Prose(issues)
	}

	return out
}

func normalizeSummary(item any) (store.SummaryVariant, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return store.SummaryVariant{}, false
	}
	summary := store.SummaryVariant{Title: defaultSummaryTitle}
	if title, ok := obj["title"].(string); ok && strings.TrimSpace(title) != "" {
		summary.Title = strings.TrimSpace(title)
	}

	var lines []store.ReferenceLine
	if raw, ok := obj["lines"].([]any); ok {
		lines = normalizeLines(raw)
	}
	// An empty or missing lines array falls back to the prose content.
	if len(lines) > 0 {
		summary.Body = store.Cited(lines)
	} else {
		content, _ := obj["content"].(string)
		summary.Body = store.Prose(content)
	}
	return summary, true
}

func normalizeLines(items []any) []store.ReferenceLine {
	lines := make([]store.ReferenceLine, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text, _ := obj["text"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		lines = append(lines, store.ReferenceLine{Text: text, Pages: NormalizePages(obj["pages"])})
	}
	return lines
}

// NormalizePages coerces each element to an integer, drops non-positive or
// non-finite values and removes duplicates, preserving first-seen order.
// Anything that is not an array yields an empty list.
func NormalizePages(value any) []int {
	pages := []int{}
	items, ok := value.([]any)
	if !ok {
		if ints, ok := value.([]int); ok {
			items = make([]any, len(ints))
			for i, n := range ints {
				items[i] = n
			}
		} else {
			return pages
		}
	}

	seen := make(map[int]struct{}, len(items))
	for _, item := range items {
		n, ok := coercePage(item)
		if !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		pages = append(pages, n)
	}
	return pages
}

func coercePage(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case json.Number:
		// ParseFloat reports overflow as a range error
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		m := leadingInt.FindString(n)
		if m == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Trunc(f)
	if f <= 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func roundTrip(data store.AnalysisData) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// ClampPages drops citations past the end of a document with pageCount pages.
// A non-positive pageCount leaves the data unchanged.
func ClampPages(data store.AnalysisData, pageCount int) store.AnalysisData {
	if pageCount <= 0 {
		return data
	}
	clamp := func(lines []store.ReferenceLine) store.Cited {
		out := make([]store.ReferenceLine, len(lines))
		for i, line := range lines {
			pages := make([]int, 0, len(line.Pages))
			for _, p := range line.Pages {
				if p <= pageCount {
					pages = append(pages, p)
				}
			}
			out[i] = store.ReferenceLine{Text: line.Text, Pages: pages}
		}
		return out
	}

	summaries := make([]store.SummaryVariant, len(data.Summaries))
	for i, s := range data.Summaries {
		summaries[i] = s
		if cited, ok := s.Body.(store.Cited); ok {
			summaries[i].Body = clamp(cited)
		}
	}
	data.Summaries = summaries
	if cited, ok := data.Issues.(store.Cited); ok {
		data.Issues = clamp(cited)
	}
	return data
}
