package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"gwi.com/pdf-assistant/internal/store"
)

// CommitFunc publishes a whole transcript, trailing AI slot included. When
// persist is false the commit only needs to reach in-memory readers.
type CommitFunc func(ctx context.Context, msgs []store.Message, persist bool) error

// Turn describes one streamed reply. History already ends with the user
// message when the turn has one.
type Turn struct {
	History []store.Message
	// Open starts the model stream.
	Open   func(ctx context.Context) (TextStream, error)
	Commit CommitFunc
	// Finalize, when set, amends a successful reply before the final commit.
	Finalize  func(reply *store.Message)
	ErrorText string
}

// Reconciler folds a stream of text chunks into the trailing AI message of a
// transcript, committing at most once per interval plus a final commit.
// Intermediate commits ask for persistence at most once per persistEvery; the
// placeholder and final commits always do.
type Reconciler struct {
	interval     time.Duration
	persistEvery time.Duration
	now          func() time.Time
	log          *zap.Logger
}

func NewReconciler(interval, persistEvery time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{interval: interval, persistEvery: persistEvery, now: time.Now, log: logger}
}

// Outcome is the finalized transcript of a turn. ModelErr is set when the
// stream failed and the AI slot holds the turn's ErrorText instead of a reply.
type Outcome struct {
	Messages []store.Message
	ModelErr error
}

func (o Outcome) Reply() store.Message {
	return o.Messages[len(o.Messages)-1]
}

// Run streams the reply for turn. Model failures never surface as errors;
// the returned error reports a failed final commit only.
func (r *Reconciler) Run(ctx context.Context, turn Turn) (Outcome, error) {
	msgs := append(store.CloneMessages(turn.History), store.Message{Role: store.RoleAI})
	last := len(msgs) - 1

	commitIntermediate := func(persist bool) {
		if err := turn.Commit(ctx, store.CloneMessages(msgs), persist); err != nil {
			r.log.Warn("intermediate transcript commit failed", zap.Bool("persist", persist), zap.Error(err))
		}
	}
	commitFinal := func() error {
		return turn.Commit(ctx, store.CloneMessages(msgs), true)
	}

	// placeholder
	commitIntermediate(true)
	lastPersist := r.now()

	reply, streamErr := r.consume(ctx, turn, func(content string, due bool, at time.Time) {
		msgs[last].Content = content
		if !due {
			return
		}
		persist := at.Sub(lastPersist) >= r.persistEvery
		if persist {
			lastPersist = at
		}
		commitIntermediate(persist)
	})
	if streamErr != nil {
		r.log.Warn("streamed reply failed", zap.Error(streamErr))
		msgs[last].Content = turn.ErrorText
	} else {
		msgs[last].Content = reply
		if turn.Finalize != nil {
			turn.Finalize(&msgs[last])
		}
	}

	out := Outcome{Messages: msgs, ModelErr: streamErr}
	if err := commitFinal(); err != nil {
		return out, fmt.Errorf("failed to commit transcript: %w", err)
	}
	return out, nil
}

// consume pulls the stream to exhaustion. update is called for every chunk;
// due reports whether the commit interval elapsed since the last commit and
// at is the clock reading it was judged at.
func (r *Reconciler) consume(ctx context.Context, turn Turn, update func(content string, due bool, at time.Time)) (string, error) {
	stream, err := turn.Open(ctx)
	if err != nil {
		return "", err
	}
	var (
		acc        strings.Builder
		lastCommit = r.now()
	)
	for {
		chunk, err := stream.Next()
		if errors.Is(err, iterator.Done) {
			return acc.String(), nil
		}
		if err != nil {
			return "", err
		}
		if chunk == "" {
			continue
		}
		acc.WriteString(chunk)
		now := r.now()
		due := now.Sub(lastCommit) >= r.interval
		if due {
			lastCommit = now
		}
		update(acc.String(), due, now)
	}
}
