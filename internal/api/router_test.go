package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"gwi.com/pdf-assistant/internal/citation"
	"gwi.com/pdf-assistant/internal/core"
	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

type chunkStream []string

func (s *chunkStream) Next() (string, error) {
	if len(*s) == 0 {
		return "", iterator.Done
	}
	chunk := (*s)[0]
	*s = (*s)[1:]
	return chunk, nil
}

type stubGenerator struct {
	chunks []string
}

func (g *stubGenerator) Generate(context.Context, core.Request) (*core.Reply, error) {
	return &core.Reply{Text: "TEXT"}, nil
}

func (g *stubGenerator) Stream(context.Context, core.Request) (core.TextStream, error) {
	s := chunkStream(append([]string(nil), g.chunks...))
	return &s, nil
}

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n%%EOF\n")

func newTestServer(t *testing.T, gen core.Generator) *httptest.Server {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	view := viewstate.NewStore(db, nil)
	rec := core.NewReconciler(0, 0, nil)
	renderer := citation.NewRenderer(citation.WithPageLinks())
	handler := NewAPIHandler(Services{
		Sessions:    core.NewSessionService(db, view, nil),
		Analysis:    core.NewAnalysisService(db, view, gen, nil),
		Chat:        core.NewChatService(db, view, gen, rec, renderer, nil),
		Annotations: core.NewAnnotationService(db, view, gen, rec, "image-model", nil),
		ImageChat:   core.NewImageChatService(view, gen, rec, "image-model", nil),
		Share:       core.NewShareService(db, db, gen, "", nil),
		Credentials: core.SlotKey{KV: db},
		Renderer:    renderer,
	}, nil)

	srv := httptest.NewServer(NewRouter(handler, nil))
	t.Cleanup(srv.Close)
	return srv
}

func upload(t *testing.T, srv *httptest.Server, name string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/sessions", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func send(t *testing.T, srv *httptest.Server, method, path string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{})
	resp := send(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionRoutes(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{})

	resp := upload(t, srv, "notes.txt", []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = upload(t, srv, "report.pdf", samplePDF)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "report.pdf", created.FileName)

	resp = send(t, srv, http.MethodGet, "/api/sessions", nil)
	var list []SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	resp = send(t, srv, http.MethodGet, "/api/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = send(t, srv, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = send(t, srv, http.MethodDelete, "/api/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPostMessageStreamsEvents(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{chunks: []string{"매출이 늘었습니다 ", "[1p]"}})
	resp := upload(t, srv, "report.pdf", samplePDF)
	var created SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = send(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/messages", PostMessageRequest{Content: "요약해줘"})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "event: update\ndata: {\"content\":\"매출이 늘었습니다 \"}")
	assert.Contains(t, body, "event: done\n")
	assert.Contains(t, body, "citation-badge")
	assert.NotContains(t, body, "요약해줘", "user turns are not echoed as updates")
}

func TestPostMessageValidationIsPlainJSON(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{})
	resp := upload(t, srv, "report.pdf", samplePDF)
	var created SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = send(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/messages", PostMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp = send(t, srv, http.MethodPost, "/api/sessions/missing/messages", PostMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSmallCaptureIsNoContent(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{})
	resp := upload(t, srv, "report.pdf", samplePDF)
	var created SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = send(t, srv, http.MethodPost, "/api/sessions/"+created.ID+"/annotations", map[string]any{
		"pageImage":  "data:image/png;base64,AAAA",
		"rect":       map[string]float64{"x": 5, "y": 5, "width": 10, "height": 40},
		"scale":      1,
		"pageNumber": 1,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCredentials(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{})

	resp := send(t, srv, http.MethodPut, "/api/credentials", CredentialsRequest{APIKey: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = send(t, srv, http.MethodPut, "/api/credentials", CredentialsRequest{APIKey: "AIzaTest"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = send(t, srv, http.MethodGet, "/api/credentials", nil)
	var got map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got["configured"])
}

func TestSharedChatUnknownShareIsForbidden(t *testing.T) {
	srv := newTestServer(t, &stubGenerator{})

	resp := send(t, srv, http.MethodPost, "/api/share/chat", core.SharedChatRequest{
		PublicID: uuid.NewString(), Password: "pw", Message: "q",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "error"))
}
