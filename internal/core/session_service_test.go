package core

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

func TestCreateSessionRejectsNonPDF(t *testing.T) {
	f := newFixture(t)
	svc := NewSessionService(f.db, f.view, nil)

	_, err := svc.CreateSession(context.Background(), "notes.txt", []byte("hello"))

	assert.ErrorIs(t, err, ErrValidation)
	sessions, err := svc.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	svc := NewSessionService(f.db, f.view, nil)
	ctx := context.Background()

	a, err := svc.CreateSession(ctx, "  a.pdf ", samplePDF)
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", a.FileName)
	assert.Equal(t, base64.StdEncoding.EncodeToString(samplePDF), a.PdfBase64)

	b, err := svc.CreateSession(ctx, "", samplePDF)
	require.NoError(t, err)
	assert.Equal(t, "document.pdf", b.FileName)

	view := svc.View()
	assert.Equal(t, b.ID, view.CurrentSessionID)
	assert.Equal(t, []string{b.ID, a.ID}, view.SessionIDs)

	selected, err := svc.SelectSession(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, selected.CurrentSessionID)
	assert.Equal(t, "a.pdf", selected.CurrentFileName)

	_, err = svc.SelectSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, svc.DeleteSession(ctx, a.ID))
	view = svc.View()
	assert.Empty(t, view.CurrentSessionID, "deleting the current session resets the view")
	assert.Equal(t, []string{b.ID}, view.SessionIDs)

	_, err = svc.GetSession(ctx, a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, id := range []string{"old", "new", "mid"} {
		require.NoError(t, f.db.SaveSession(ctx, &store.PdfSession{
			ID: id, FileName: id + ".pdf", PdfBase64: "JVBERi0=", Messages: []store.Message{}, CreatedAt: int64([]int{1, 3, 2}[i]),
		}))
	}
	svc := NewSessionService(f.db, f.view, nil)

	sessions, err := svc.ListSessions(ctx)

	require.NoError(t, err)
	ids := []string{}
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)
	assert.Equal(t, ids, svc.View().SessionIDs)
}

func TestPatchViewClampsToPageCount(t *testing.T) {
	f := newFixture(t)
	svc := NewSessionService(f.db, f.view, nil)
	ctx := context.Background()
	session := f.createSession(t)
	_, err := f.db.UpdateSession(ctx, session.ID, func(ps *store.PdfSession) error {
		ps.PageCount = 4
		return nil
	})
	require.NoError(t, err)

	page, open := 9, true
	view, err := svc.PatchView(ctx, ViewPatch{PageNumber: &page, IsSidebarOpen: &open})

	require.NoError(t, err)
	assert.Equal(t, 4, view.PageNumber)
	assert.True(t, view.IsSidebarOpen)
	assert.False(t, view.IsKeyModalOpen)

	view, err = svc.Reset(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.CurrentSessionID)
	assert.Equal(t, 1, view.PageNumber)
}

func TestRestoreHydratesLoadedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.createSession(t)
	_, err := f.db.UpdateSession(ctx, session.ID, func(ps *store.PdfSession) error {
		ps.AnalysisData = &store.AnalysisData{Title: "분기 보고서", Issues: store.Prose("")}
		ps.Messages = []store.Message{{Role: store.RoleUser, Content: "q"}, {Role: store.RoleAI, Content: "a"}}
		return nil
	})
	require.NoError(t, err)

	view := viewstate.NewStore(f.db, nil)
	require.NoError(t, view.Load(ctx))
	require.Equal(t, session.ID, view.Snapshot().CurrentSessionID)
	assert.Empty(t, view.Snapshot().CurrentFileName, "only pointers survive a restart")

	restored, err := NewSessionService(f.db, view, nil).Restore(ctx)

	require.NoError(t, err)
	assert.Equal(t, session.ID, restored.CurrentSessionID)
	assert.Equal(t, "report.pdf", restored.CurrentFileName)
	require.NotNil(t, restored.AnalysisData)
	assert.Equal(t, "분기 보고서", restored.AnalysisData.Title)
	assert.Len(t, restored.ChatMessagesBySession[session.ID], 2)
	assert.False(t, restored.DocumentAttached(session.ID))
}

func TestRestoreClearsMissingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.createSession(t)
	require.NoError(t, f.db.DeleteSession(ctx, session.ID))

	view := viewstate.NewStore(f.db, nil)
	require.NoError(t, view.Load(ctx))

	restored, err := NewSessionService(f.db, view, nil).Restore(ctx)

	require.NoError(t, err)
	assert.Empty(t, restored.CurrentSessionID)
	assert.Empty(t, restored.CurrentFileName)
}
