package viewstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const pointersKey = "view_state"

// KV is the slot the persisted pointers are written to.
type KV interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}

type Store struct {
	mu    sync.RWMutex
	state State
	kv    KV
	log   *zap.Logger
}

func NewStore(kv KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{state: Initial(), kv: kv, log: logger}
}

// Load restores the persisted pointers. A missing or unreadable slot leaves
// the initial state in place.
func (s *Store) Load(ctx context.Context) error {
	raw, ok, err := s.kv.GetValue(ctx, pointersKey)
	if err != nil {
		return fmt.Errorf("failed to load view state: %w", err)
	}
	if !ok {
		return nil
	}
	var p persisted
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.log.Warn("ignoring unreadable view state", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.SetSessionIDs(p.SessionIDs).SetIsSidebarOpen(p.IsSidebarOpen).SetIsKeyModalOpen(p.IsKeyModalOpen)
	s.state.CurrentSessionID = p.CurrentSessionID
	return nil
}

func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update applies fn atomically and persists the pointers when they change.
// The in-memory transition is kept even when persisting fails.
func (s *Store) Update(ctx context.Context, fn func(State) State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.state.pointers()
	s.state = fn(s.state)
	next := s.state

	after := next.pointers()
	if before.equal(after) {
		return next, nil
	}
	raw, err := json.Marshal(after)
	if err != nil {
		return next, fmt.Errorf("failed to encode view state: %w", err)
	}
	if err := s.kv.SetValue(ctx, pointersKey, string(raw)); err != nil {
		return next, fmt.Errorf("failed to persist view state: %w", err)
	}
	return next, nil
}
