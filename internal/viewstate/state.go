// Package viewstate holds the process-wide view of the active session: which
// session is selected, cached transcripts and annotations per session, and UI
// flags.
//
// State is an immutable value. Every transition is a method returning a new
// State, so tests can exercise transitions without a Store. Store wraps a
// State behind a mutex and persists only the lightweight pointers (session
// ids, current id, sidebar and key-modal flags); bulk data lives in the
// session store.
package viewstate

import (
	"slices"

	"gwi.com/pdf-assistant/internal/store"
)

type State struct {
	IsAnalyzing      bool                `json:"isAnalyzing"`
	AnalysisData     *store.AnalysisData `json:"analysisData"`
	PageNumber       int                 `json:"pageNumber"`
	CurrentSessionID string              `json:"currentSessionId"`
	SessionIDs       []string            `json:"sessionIds"`
	IsSidebarOpen    bool                `json:"isSidebarOpen"`
	IsKeyModalOpen   bool                `json:"isKeyModalOpen"`
	CurrentFileName  string              `json:"currentFileName"`

	ChatMessagesBySession map[string][]store.Message    `json:"chatMessagesBySession"`
	AnnotationsBySession  map[string][]store.Annotation `json:"annotationsBySession"`
	ImageChatBySession    map[string][]store.Message    `json:"imageChatBySession"`

	// documentAttached marks sessions whose first chat turn already carried the PDF.
	documentAttached map[string]bool
}

func Initial() State {
	return State{
		PageNumber:            1,
		SessionIDs:            []string{},
		ChatMessagesBySession: map[string][]store.Message{},
		AnnotationsBySession:  map[string][]store.Annotation{},
		ImageChatBySession:    map[string][]store.Message{},
		documentAttached:      map[string]bool{},
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s State) SetIsAnalyzing(v bool) State {
	s.IsAnalyzing = v
	return s
}

func (s State) SetAnalysisData(data *store.AnalysisData) State {
	s.AnalysisData = data
	return s
}

// SetPageNumber moves to page n, clamped to [1, pageCount]. A non-positive
// pageCount means the count is unknown and only the lower bound applies.
func (s State) SetPageNumber(n, pageCount int) State {
	if pageCount > 0 && n > pageCount {
		n = pageCount
	}
	if n < 1 {
		n = 1
	}
	s.PageNumber = n
	return s
}

func (s State) SetSessionIDs(ids []string) State {
	s.SessionIDs = slices.Clone(ids)
	return s
}

func (s State) SetIsSidebarOpen(v bool) State {
	s.IsSidebarOpen = v
	return s
}

func (s State) SetIsKeyModalOpen(v bool) State {
	s.IsKeyModalOpen = v
	return s
}

func (s State) SetChatMessagesForSession(sessionID string, msgs []store.Message) State {
	s.ChatMessagesBySession = copyMap(s.ChatMessagesBySession)
	s.ChatMessagesBySession[sessionID] = store.CloneMessages(msgs)
	return s
}

func (s State) SetAnnotationsForSession(sessionID string, annotations []store.Annotation) State {
	cloned := make([]store.Annotation, len(annotations))
	for i, a := range annotations {
		cloned[i] = a.Clone()
	}
	s.AnnotationsBySession = copyMap(s.AnnotationsBySession)
	s.AnnotationsBySession[sessionID] = cloned
	return s
}

func (s State) SetImageChatForSession(sessionID string, msgs []store.Message) State {
	s.ImageChatBySession = copyMap(s.ImageChatBySession)
	s.ImageChatBySession[sessionID] = store.CloneMessages(msgs)
	return s
}

// AddSession puts a new session id at the front of the list.
func (s State) AddSession(sessionID string) State {
	ids := []string{sessionID}
	for _, id := range s.SessionIDs {
		if id != sessionID {
			ids = append(ids, id)
		}
	}
	s.SessionIDs = ids
	return s
}

// RemoveSession drops every cached trace of a session. Removing the current
// session also resets the view.
func (s State) RemoveSession(sessionID string) State {
	s.SessionIDs = slices.DeleteFunc(slices.Clone(s.SessionIDs), func(id string) bool { return id == sessionID })
	s.ChatMessagesBySession = copyMap(s.ChatMessagesBySession)
	delete(s.ChatMessagesBySession, sessionID)
	s.AnnotationsBySession = copyMap(s.AnnotationsBySession)
	delete(s.AnnotationsBySession, sessionID)
	s.ImageChatBySession = copyMap(s.ImageChatBySession)
	delete(s.ImageChatBySession, sessionID)
	s.documentAttached = copyMap(s.documentAttached)
	delete(s.documentAttached, sessionID)
	if s.CurrentSessionID == sessionID {
		s = s.Reset()
	}
	return s
}

// SelectSession hydrates the view from a stored session and resets its
// first-turn flag, so the next chat turn attaches the document again.
func (s State) SelectSession(session *store.PdfSession) State {
	s.CurrentSessionID = session.ID
	s.CurrentFileName = session.FileName
	s.AnalysisData = session.AnalysisData
	s.PageNumber = 1
	s.IsAnalyzing = false
	s = s.SetChatMessagesForSession(session.ID, session.Messages)
	s = s.SetAnnotationsForSession(session.ID, session.Annotations)
	s.documentAttached = copyMap(s.documentAttached)
	delete(s.documentAttached, session.ID)
	return s
}

// Reset clears the current document but keeps the session list and per-session caches.
func (s State) Reset() State {
	s.AnalysisData = nil
	s.CurrentSessionID = ""
	s.CurrentFileName = ""
	s.PageNumber = 1
	s.IsAnalyzing = false
	return s
}

func (s State) MarkDocumentAttached(sessionID string) State {
	s.documentAttached = copyMap(s.documentAttached)
	s.documentAttached[sessionID] = true
	return s
}

func (s State) DocumentAttached(sessionID string) bool {
	return s.documentAttached[sessionID]
}

// persisted is the subset of State written to durable storage.
type persisted struct {
	SessionIDs       []string `json:"sessionIds"`
	CurrentSessionID string   `json:"currentSessionId"`
	IsSidebarOpen    bool     `json:"isSidebarOpen"`
	IsKeyModalOpen   bool     `json:"isKeyModalOpen"`
}

func (s State) pointers() persisted {
	ids := s.SessionIDs
	if ids == nil {
		ids = []string{}
	}
	return persisted{
		SessionIDs:       ids,
		CurrentSessionID: s.CurrentSessionID,
		IsSidebarOpen:    s.IsSidebarOpen,
		IsKeyModalOpen:   s.IsKeyModalOpen,
	}
}

func (p persisted) equal(o persisted) bool {
	return slices.Equal(p.SessionIDs, o.SessionIDs) &&
		p.CurrentSessionID == o.CurrentSessionID &&
		p.IsSidebarOpen == o.IsSidebarOpen &&
		p.IsKeyModalOpen == o.IsKeyModalOpen
}
