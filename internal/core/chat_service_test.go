package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/pdf-assistant/internal/citation"
	"gwi.com/pdf-assistant/internal/store"
)

func TestSendMessageStreamsIntoSession(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.gen.stream = func(Request) (TextStream, error) { return newStream("매출이 ", "늘었다[2p]"), nil }

	var updates [][]store.Message
	reply, err := f.chatService().SendMessage(context.Background(), session.ID, "  매출은?  ", func(m []store.Message) {
		updates = append(updates, m)
	})

	require.NoError(t, err)
	assert.Equal(t, "매출이 늘었다[2p]", reply.Reply.Content)
	assert.Equal(t, []int{2}, reply.Reply.Citations)
	assert.Contains(t, reply.HTML, `data-page="2"`)

	require.NotEmpty(t, updates)
	assert.Equal(t, []store.Message{{Role: store.RoleUser, Content: "매출은?"}}, updates[0], "user turn is visible first")
	assert.Equal(t, "", updates[1][1].Content, "then the placeholder")

	stored := f.reload(t, session.ID)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "매출이 늘었다[2p]", stored.Messages[1].Content)
	assert.Equal(t, stored.Messages, f.view.Snapshot().ChatMessagesBySession[session.ID])
}

func TestSendMessageAttachesDocumentOnFirstTurnOnly(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	_, err := f.db.UpdateSession(context.Background(), session.ID, func(ps *store.PdfSession) error {
		ps.AnalysisData = &store.AnalysisData{
			Title:     "분기 보고서",
			Summaries: []store.SummaryVariant{{Title: "3줄 요약", Body: store.Cited{{Text: "매출 증가", Pages: []int{1}}}}},
			Issues:    store.Prose(""),
		}
		return nil
	})
	require.NoError(t, err)
	f.gen.stream = func(Request) (TextStream, error) { return newStream("ok"), nil }
	chat := f.chatService()
	ctx := context.Background()

	_, err = chat.SendMessage(ctx, session.ID, "첫 질문", nil)
	require.NoError(t, err)
	_, err = chat.SendMessage(ctx, session.ID, "두 번째", nil)
	require.NoError(t, err)

	require.Len(t, f.gen.streamed, 2)
	first, second := f.gen.streamed[0], f.gen.streamed[1]
	assert.Equal(t, samplePDF, blobOf(first, "application/pdf"))
	assert.Contains(t, first.Parts[1].Text, chatDigestHeader+"문서 제목: 분기 보고서")
	assert.Equal(t, chatSystemPrompt, first.System)
	assert.False(t, hasBlob(second))
	assert.Contains(t, second.Parts[0].Text, "[사용자] 첫 질문\n\n[AI] ok")
	assert.Contains(t, second.Parts[0].Text, "사용자 질문: 두 번째")

	_, err = NewSessionService(f.db, f.view, nil).SelectSession(ctx, session.ID)
	require.NoError(t, err)
	_, err = chat.SendMessage(ctx, session.ID, "다시", nil)
	require.NoError(t, err)
	assert.True(t, hasBlob(f.gen.streamed[2]), "selecting the session attaches the document again")
}

func TestSendMessageErrorKeepsFirstTurnPending(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.gen.stream = func(Request) (TextStream, error) {
		s := newStream("부분")
		s.failAt = 1
		return s, nil
	}
	chat := f.chatService()

	reply, err := chat.SendMessage(context.Background(), session.ID, "질문", nil)

	require.NoError(t, err)
	assert.Equal(t, chatErrorText, reply.Reply.Content)
	assert.Empty(t, reply.Reply.Citations)
	assert.False(t, f.view.Snapshot().DocumentAttached(session.ID))
	assert.Equal(t, chatErrorText, f.reload(t, session.ID).Messages[1].Content)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	chat := f.chatService()

	_, err := chat.SendMessage(context.Background(), "missing", "hi", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	session := f.createSession(t)
	_, err = chat.SendMessage(context.Background(), session.ID, "   ", nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.gen.streamed)
}

func TestSendMessageWritesToSessionThatIsNoLongerCurrent(t *testing.T) {
	f := newFixture(t)
	first := f.createSession(t)
	second := f.createSession(t)
	require.Equal(t, second.ID, f.view.Snapshot().CurrentSessionID)
	f.gen.stream = func(Request) (TextStream, error) { return newStream("늦은 답변"), nil }

	_, err := f.chatService().SendMessage(context.Background(), first.ID, "질문", nil)

	require.NoError(t, err)
	assert.Equal(t, "늦은 답변", f.reload(t, first.ID).Messages[1].Content)
	assert.Empty(t, f.reload(t, second.ID).Messages)
}

func TestMessagesRendersAIContent(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.gen.stream = func(Request) (TextStream, error) { return newStream("근거[1p]"), nil }
	chat := f.chatService()
	_, err := chat.SendMessage(context.Background(), session.ID, "q", nil)
	require.NoError(t, err)

	msgs, err := chat.Messages(context.Background(), session.ID)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Empty(t, msgs[0].HTML)
	assert.Contains(t, msgs[1].HTML, `class="citation-badge"`)
}

// countingSessions counts row rewrites.
type countingSessions struct {
	SessionStore
	updates int
}

func (c *countingSessions) UpdateSession(ctx context.Context, id string, fn func(*store.PdfSession) error) (*store.PdfSession, error) {
	c.updates++
	return c.SessionStore.UpdateSession(ctx, id, fn)
}

func TestSendMessageKeepsIntermediateFramesOutOfTheDatabase(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.gen.stream = func(Request) (TextStream, error) { return newStream("가", "나", "다", "라"), nil }
	counted := &countingSessions{SessionStore: f.db}
	chat := NewChatService(counted, f.view, f.gen, NewReconciler(0, time.Hour, nil), citation.NewRenderer(), nil)

	var frames []string
	_, err := chat.SendMessage(context.Background(), session.ID, "질문", func(m []store.Message) {
		frames = append(frames, m[len(m)-1].Content)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, counted.updates, "user turn, placeholder and final reply")
	assert.Equal(t, []string{"질문", "", "가", "가나", "가나다", "가나다라", "가나다라"}, frames)
	assert.Equal(t, "가나다라", f.reload(t, session.ID).Messages[1].Content)
}
