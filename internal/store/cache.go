package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedSessionStore keeps recently read sessions in memory in front of SQLiteStore.
// Cached values are cloned on the way in and out so callers never share slices.
type CachedSessionStore struct {
	*SQLiteStore
	cache *gocache.Cache
}

func NewCachedSessionStore(inner *SQLiteStore, ttl time.Duration) *CachedSessionStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSessionStore{
		SQLiteStore: inner,
		cache:       gocache.New(ttl, 2*ttl),
	}
}

func (c *CachedSessionStore) GetSession(ctx context.Context, id string) (*PdfSession, error) {
	if cached, ok := c.cache.Get(id); ok {
		return cached.(*PdfSession).Clone(), nil
	}
	session, err := c.SQLiteStore.GetSession(ctx, id)
	if err != nil || session == nil {
		return session, err
	}
	c.cache.SetDefault(id, session.Clone())
	return session, nil
}

func (c *CachedSessionStore) SaveSession(ctx context.Context, session *PdfSession) error {
	if err := c.SQLiteStore.SaveSession(ctx, session); err != nil {
		return err
	}
	c.cache.SetDefault(session.ID, session.Clone())
	return nil
}

func (c *CachedSessionStore) DeleteSession(ctx context.Context, id string) error {
	c.cache.Delete(id)
	return c.SQLiteStore.DeleteSession(ctx, id)
}

func (c *CachedSessionStore) UpdateSession(ctx context.Context, id string, fn func(*PdfSession) error) (*PdfSession, error) {
	session, err := c.SQLiteStore.UpdateSession(ctx, id, fn)
	if err != nil {
		// the stored value may have changed underneath a failed update
		c.cache.Delete(id)
		return nil, err
	}
	c.cache.SetDefault(id, session.Clone())
	return session, nil
}
