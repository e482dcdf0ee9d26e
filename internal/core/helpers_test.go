package core

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"gwi.com/pdf-assistant/internal/citation"
	"gwi.com/pdf-assistant/internal/imaging"
	"gwi.com/pdf-assistant/internal/store"
	"gwi.com/pdf-assistant/internal/viewstate"
)

var errBoom = errors.New("boom")

type scriptedStream struct {
	chunks []string
	// failAt makes the stream fail before yielding chunks[failAt]; -1 never fails.
	failAt int
	pos    int
}

func newStream(chunks ...string) *scriptedStream {
	return &scriptedStream{chunks: chunks, failAt: -1}
}

func (s *scriptedStream) Next() (string, error) {
	if s.failAt >= 0 && s.pos == s.failAt {
		return "", errBoom
	}
	if s.pos >= len(s.chunks) {
		return "", iterator.Done
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

// fakeGenerator records every request and answers from the configured funcs.
type fakeGenerator struct {
	mu        sync.Mutex
	generated []Request
	streamed  []Request

	generate func(req Request) (*Reply, error)
	stream   func(req Request) (TextStream, error)
}

func (g *fakeGenerator) Generate(_ context.Context, req Request) (*Reply, error) {
	g.mu.Lock()
	g.generated = append(g.generated, req)
	g.mu.Unlock()
	if g.generate == nil {
		return nil, errBoom
	}
	return g.generate(req)
}

func (g *fakeGenerator) Stream(_ context.Context, req Request) (TextStream, error) {
	g.mu.Lock()
	g.streamed = append(g.streamed, req)
	g.mu.Unlock()
	if g.stream == nil {
		return nil, errBoom
	}
	return g.stream(req)
}

func hasBlob(req Request) bool {
	for _, p := range req.Parts {
		if p.isBlob() {
			return true
		}
	}
	return false
}

func blobOf(req Request, mimeType string) []byte {
	for _, p := range req.Parts {
		if p.MIMEType == mimeType {
			return p.Data
		}
	}
	return nil
}

type fixture struct {
	db   *store.SQLiteStore
	view *viewstate.Store
	gen  *fakeGenerator
	rec  *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &fixture{
		db:   db,
		view: viewstate.NewStore(db, nil),
		gen:  &fakeGenerator{},
		rec:  NewReconciler(0, 0, nil),
	}
}

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n%%EOF\n")

func (f *fixture) createSession(t *testing.T) *store.PdfSession {
	t.Helper()
	session, err := NewSessionService(f.db, f.view, nil).CreateSession(context.Background(), "report.pdf", samplePDF)
	require.NoError(t, err)
	return session
}

func (f *fixture) chatService() *ChatService {
	return NewChatService(f.db, f.view, f.gen, f.rec, citation.NewRenderer(), nil)
}

func (f *fixture) reload(t *testing.T, id string) *store.PdfSession {
	t.Helper()
	session, err := f.db.GetSession(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, session)
	return session
}

// pageImage renders a solid page as a PNG data URL.
func pageImage(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	data, err := imaging.EncodePNG(img)
	require.NoError(t, err)
	return imaging.EncodeDataURL("image/png", data)
}

// steppingClock advances by step on every call.
type steppingClock struct {
	t    time.Time
	step time.Duration
}

func (c *steppingClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}
