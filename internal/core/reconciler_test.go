package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/pdf-assistant/internal/store"
)

type commitLog struct {
	commits  [][]store.Message
	persists []bool
	err      error
}

func (c *commitLog) commit(_ context.Context, msgs []store.Message, persist bool) error {
	c.commits = append(c.commits, msgs)
	c.persists = append(c.persists, persist)
	return c.err
}

func (c *commitLog) trailing() []string {
	out := make([]string, len(c.commits))
	for i, msgs := range c.commits {
		out[i] = msgs[len(msgs)-1].Content
	}
	return out
}

func userTurn(content string) []store.Message {
	return []store.Message{{Role: store.RoleUser, Content: content}}
}

func newTestReconciler(step time.Duration) *Reconciler {
	r := NewReconciler(16*time.Millisecond, 0, nil)
	clock := &steppingClock{t: time.Unix(0, 0), step: step}
	r.now = clock.now
	return r
}

func TestReconcilerCommitsEveryFrame(t *testing.T) {
	log := &commitLog{}
	r := newTestReconciler(20 * time.Millisecond)

	out, err := r.Run(context.Background(), Turn{
		History:   userTurn("hi"),
		Open:      func(context.Context) (TextStream, error) { return newStream("안", "녕", "하세요"), nil },
		Commit:    log.commit,
		ErrorText: "failed",
	})

	require.NoError(t, err)
	require.NoError(t, out.ModelErr)
	assert.Equal(t, "안녕하세요", out.Reply().Content)
	assert.Equal(t, []string{"", "안", "안녕", "안녕하세요", "안녕하세요"}, log.trailing())
	for _, msgs := range log.commits {
		require.Len(t, msgs, 2)
		assert.Equal(t, store.RoleUser, msgs[0].Role)
		assert.Equal(t, store.RoleAI, msgs[1].Role)
	}
}

func TestReconcilerCoalescesBurstsAndFlushes(t *testing.T) {
	log := &commitLog{}
	r := newTestReconciler(time.Millisecond)

	out, err := r.Run(context.Background(), Turn{
		History: userTurn("hi"),
		Open:    func(context.Context) (TextStream, error) { return newStream("안", "녕", "하세요"), nil },
		Commit:  log.commit,
	})

	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", out.Reply().Content)
	assert.Equal(t, []string{"", "안녕하세요"}, log.trailing(), "placeholder and final flush only")
}

func TestReconcilerPersistsOnCoarserTimer(t *testing.T) {
	log := &commitLog{}
	r := newTestReconciler(20 * time.Millisecond)
	r.persistEvery = 50 * time.Millisecond

	_, err := r.Run(context.Background(), Turn{
		History: userTurn("hi"),
		Open:    func(context.Context) (TextStream, error) { return newStream("a", "b", "c", "d", "e"), nil },
		Commit:  log.commit,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"", "a", "ab", "abc", "abcd", "abcde", "abcde"}, log.trailing())
	assert.Equal(t, []bool{true, false, true, false, false, true, true}, log.persists,
		"placeholder and final always persist, frames in between every 50ms")
}

func TestReconcilerIntermediateCommitFailureIsNotFatal(t *testing.T) {
	log := &commitLog{err: errors.New("disk full")}
	r := newTestReconciler(20 * time.Millisecond)
	calls := 0

	_, err := r.Run(context.Background(), Turn{
		History: userTurn("hi"),
		Open:    func(context.Context) (TextStream, error) { return newStream("a", "b"), nil },
		Commit: func(ctx context.Context, msgs []store.Message, persist bool) error {
			calls++
			if calls == 4 {
				return nil
			}
			return log.commit(ctx, msgs, persist)
		},
	})

	require.NoError(t, err, "only the final commit error is returned")
	assert.Equal(t, 4, calls)
}

func TestReconcilerReplacesPartialReplyOnError(t *testing.T) {
	log := &commitLog{}
	r := newTestReconciler(20 * time.Millisecond)
	stream := newStream("안", "녕", "하세요")
	stream.failAt = 2

	out, err := r.Run(context.Background(), Turn{
		History:   userTurn("hi"),
		Open:      func(context.Context) (TextStream, error) { return stream, nil },
		Commit:    log.commit,
		ErrorText: chatErrorText,
	})

	require.NoError(t, err)
	assert.ErrorIs(t, out.ModelErr, errBoom)
	assert.Equal(t, chatErrorText, out.Reply().Content)
	assert.Equal(t, chatErrorText, log.trailing()[len(log.commits)-1])
}

func TestReconcilerOpenFailure(t *testing.T) {
	log := &commitLog{}
	r := newTestReconciler(0)

	out, err := r.Run(context.Background(), Turn{
		History:   userTurn("hi"),
		Open:      func(context.Context) (TextStream, error) { return nil, errBoom },
		Commit:    log.commit,
		ErrorText: "failed",
	})

	require.NoError(t, err)
	assert.ErrorIs(t, out.ModelErr, errBoom)
	assert.Equal(t, []string{"", "failed"}, log.trailing())
}

func TestReconcilerFinalizeAndCommitFailure(t *testing.T) {
	log := &commitLog{err: errors.New("disk full")}
	r := newTestReconciler(0)

	out, err := r.Run(context.Background(), Turn{
		Open:     func(context.Context) (TextStream, error) { return newStream("답[2p]"), nil },
		Commit:   log.commit,
		Finalize: func(m *store.Message) { m.Citations = []int{2} },
	})

	assert.Error(t, err, "a failed final commit is reported")
	assert.Equal(t, []int{2}, out.Reply().Citations)
	assert.Len(t, out.Messages, 1)
}

func TestReconcilerDoesNotMutateHistory(t *testing.T) {
	history := userTurn("hi")
	r := newTestReconciler(0)

	_, err := r.Run(context.Background(), Turn{
		History: history,
		Open:    func(context.Context) (TextStream, error) { return newStream("x"), nil },
		Commit:  (&commitLog{}).commit,
	})

	require.NoError(t, err)
	assert.Len(t, history, 1)
}
