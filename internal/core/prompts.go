package core

import (
	"fmt"
	"strings"

	"gwi.com/pdf-assistant/internal/store"
)

const analysisSystemPrompt = `당신은 전문 문서 분석가입니다. 제공된 문서를 분석하여 아래 JSON 구조로 완벽히 답변해 주세요.

{
  "title": "문서의 핵심 주제를 15자 내외로 요약한 제목",
  "summaries": [
    {
      "title": "3줄 요약",
      "lines": [
        { "text": "첫 번째 핵심 문장", "pages": [1] },
        { "text": "두 번째 핵심 문장", "pages": [2, 3] },
        { "text": "세 번째 핵심 문장", "pages": [4] }
      ]
    },
    {
      "title": "요약",
      "lines": [
        { "text": "문서 전체의 주요 흐름 요약 문장", "pages": [1] },
        { "text": "핵심 근거 및 결론 문장", "pages": [2, 5] }
      ]
    }
  ],
  "keywords": ["키워드1", "키워드2", "키워드3"],
  "insights": "문서 내 수치나 사실에서 바로 답을 찾을 수 있는 짧은 질문 3가지 (각 질문은 줄바꿈으로만 구분, 번호/불릿 없이 질문 문장만 작성)",
  "issues": [
    { "text": "논리적으로 확인이 필요한 사항", "pages": [6] },
    { "text": "휴먼에러 가능성이 있는 표현", "pages": [7, 8] }
  ]
}

작성 가이드:
1. title: 문서 전체를 대표하는 짧고 명확한 제목을 반드시 작성하세요.
2. insights: 배경지식이 필요한 깊은 분석 대신, 본문 내 데이터로 즉각 답변 가능한 '팩트 체크형' 질문을 작성하세요.
3. insights 형식: 질문은 정확히 3개만 작성하고, 각 질문은 한 줄에 하나씩 작성하세요. 번호(1.,2.,3.)나 불릿(-,*)은 사용하지 마세요.
4. 3줄 요약은 summaries[0].lines에 정확히 3개 항목을 넣으세요. 각 항목은 text/pages를 모두 가져야 합니다.
5. pages는 숫자 배열만 허용합니다. 예: [1] 또는 [1,2]. 문자열/대괄호 텍스트 금지.
6. summaries[1]과 issues도 동일하게 text/pages 구조로 작성하세요.
7. 언어 및 형식: 반드시 한국어로 작성하고, 위 구조와 정확히 일치하는 유효한 JSON만 반환하세요. Markdown 백틱이나 다른 설명을 덧붙이지 마세요.`

const analysisUserPrompt = "Here is the document to analyze. Please provide the JSON summary."

const chatSystemPrompt = `You are an intelligent document assistant.
You must answer the user's questions based primarily on the context of the provided document.
If the answer is not in the document, acknowledge that it's not present and do your best to answer based on external knowledge, clearly stating the distinction.
When a statement comes from the document, cite its page right after it as a bracketed marker such as [3p]. For several pages write adjacent markers such as [1p][2p], never [1,2p].
Answer in a friendly, conversational Korean tone.`

const chatDigestHeader = "[이전 분석 내용 요약입니다. 참조하세요]\n"

const (
	annotationBasePrompt      = "선택된 이미지 영역의 핵심 내용을 3문장 이내로 짧고 명확하게 한국어로 요약 및 설명해줘. 불필요한 인사말이나 부연 설명은 생략해."
	annotationInitialContent  = "이 영역에 대해 분석하고 설명해줘"
	imageChatAttachmentOnly   = "이미지 참고 요청"
	imageChatSystemPrompt     = "당신은 이미지 기획/편집을 도와주는 AI 어시스턴트입니다. 사용자의 요청을 한국어로 간결하고 실무적으로 답변하세요."
	imageChatClassifierPrompt = "다음 사용자 요청을 분류해줘. 이미지 생성/편집 요청이면 IMAGE, 이미지 설명/질문 또는 일반 대화면 TEXT를 출력해. 응답은 IMAGE 또는 TEXT 한 단어만 출력."
)

func speaker(role store.Role) string {
	if role == store.RoleUser {
		return "사용자"
	}
	return "AI"
}

// transcriptLines renders messages as "[사용자] ..." lines; sep goes between
// the speaker tag and the content.
func transcriptLines(msgs []store.Message, sep string) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, "["+speaker(m.Role)+"]"+sep+m.Content)
	}
	return strings.Join(lines, "\n\n")
}

// annotationPrompt builds the text part of a region turn. The initial turn
// carries the document digest; later turns carry the region's history.
func annotationPrompt(digest string, history []store.Message, content string, initial bool) string {
	if initial {
		if digest == "" {
			return annotationBasePrompt
		}
		return digest + "\n\n" + annotationBasePrompt
	}
	return fmt.Sprintf("이전 대화:\n%s\n\n사용자: %s\n\n위 이미지와 이전 대화를 기반으로 한국어로 간결하고 명확하게 답변해줘.",
		transcriptLines(history, ": "), content)
}

func annotationClassifierPrompt(in ClassifyInput) string {
	return fmt.Sprintf("다음 사용자 요청이 이미지 생성 요청인지 판별해줘.\n요청: %q\n응답은 IMAGE 또는 TEXT 중 하나만 출력.", in.Text)
}

func annotationImagePrompt(content string) string {
	return "사용자 요청: " + content + "\n\n아래 이미지를 참고해서 요청에 맞는 새 이미지를 생성해줘."
}

func imageChatClassifierInput(in ClassifyInput) string {
	attached := "NO"
	if in.HasAttachment {
		attached = "YES"
	}
	return fmt.Sprintf("%s\n이미지 첨부 여부: %s\n사용자 요청: %q", imageChatClassifierPrompt, attached, in.Text)
}

func imageChatImagePrompt(content string, hasAttachment bool) string {
	if hasAttachment {
		return "사용자 요청: " + content + "\n\n업로드된 이미지를 참고해 인포그래픽/편집 결과 이미지를 생성해줘."
	}
	return "사용자 요청: " + content + "\n\n인포그래픽 스타일 결과 이미지를 생성해줘."
}

// imageChatTextPrompt expects history to already end with the latest user message.
func imageChatTextPrompt(history []store.Message, content string) string {
	return "이전 대화:\n" + transcriptLines(history, " ") + "\n\n사용자 최신 요청: " + content
}

func sharedChatPrompt(digest string, history []store.Message) string {
	return digest + "\n\n이전 대화:\n" + transcriptLines(history, " ") + "\n\n위 공유 문서 컨텍스트를 기반으로 답변해주세요."
}

// chatPrompt renders the main-chat conversation; history ends with the new
// user message.
func chatPrompt(history []store.Message) string {
	if len(history) <= 1 {
		return history[len(history)-1].Content
	}
	prior, latest := history[:len(history)-1], history[len(history)-1]
	return "이전 대화:\n" + transcriptLines(prior, " ") + "\n\n사용자 질문: " + latest.Content
}
