package analysis

import (
	"regexp"
	"strings"

	"gwi.com/pdf-assistant/internal/store"
)

var defaultQuestions = []string{
	"비용 최적화 구조에 대해 더 설명해줘",
	"보안 모델의 한계점은 뭐야?",
	"최종 결론만 3줄 다이제스트해줘",
}

var questionPrefix = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// RecommendedQuestions splits insights into at most three question strings.
func RecommendedQuestions(insights string) []string {
	if strings.TrimSpace(insights) == "" {
		return append([]string(nil), defaultQuestions...)
	}
	var out []string
	for _, line := range strings.Split(insights, "\n") {
		q := strings.TrimSpace(questionPrefix.ReplaceAllString(line, ""))
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// DigestLimits caps how much of the analysis goes into a prompt. Zero means unlimited.
type DigestLimits struct {
	SummaryLines int
	Keywords     int
	IssueLines   int
}

var (
	// AnnotationDigest is attached to the first turn of a region chat.
	AnnotationDigest = DigestLimits{SummaryLines: 6, Keywords: 8, IssueLines: 4}
	// SharedDigest grounds shared-session answers; issues are not shared.
	SharedDigest = DigestLimits{SummaryLines: 8, IssueLines: -1}
	// ChatDigest is attached to the first main-chat turn.
	ChatDigest = DigestLimits{SummaryLines: 8, Keywords: 8, IssueLines: 4}
)

// Digest renders a short textual context from the analysis.
func Digest(data *store.AnalysisData, fallbackTitle string, lim DigestLimits) string {
	if data == nil {
		return ""
	}
	title := data.Title
	if title == "" {
		title = fallbackTitle
	}
	parts := []string{"문서 제목: " + title}

	var summaryLines []string
	for _, s := range data.Summaries {
		for _, line := range s.Lines() {
			summaryLines = append(summaryLines, line.Text)
		}
	}
	if lines := limit(summaryLines, lim.SummaryLines); len(lines) > 0 {
		parts = append(parts, "- 핵심 요약: "+strings.Join(lines, " | "))
	}
	if kws := limit(data.Keywords, lim.Keywords); len(kws) > 0 {
		parts = append(parts, "- 키워드: "+strings.Join(kws, ", "))
	}

	var issues []string
	switch b := data.Issues.(type) {
	case store.Cited:
		for _, line := range b {
			issues = append(issues, line.Text)
		}
	case store.Prose:
		if strings.TrimSpace(string(b)) != "" {
			issues = []string{string(b)}
		}
	}
	if lines := limit(issues, lim.IssueLines); len(lines) > 0 {
		parts = append(parts, "- 점검 항목: "+strings.Join(lines, " | "))
	}
	return strings.Join(parts, "\n")
}

func limit(items []string, n int) []string {
	if n < 0 {
		return nil
	}
	if n == 0 || len(items) <= n {
		return items
	}
	return items[:n]
}
