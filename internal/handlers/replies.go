package handlers

import (
	"context"
	"slices"
	"sync"
)

type waiter struct {
	channelID string
	authorID  string
	ch        chan string
}

// ReplyRouter hands follow-up messages to commands waiting on them, such as a
// search waiting for the user to pick a result.
type ReplyRouter struct {
	mu      sync.Mutex
	waiters []*waiter
}

func NewReplyRouter() *ReplyRouter {
	return &ReplyRouter{}
}

// WaitForReply blocks until authorID posts in channelID or ctx is done.
func (r *ReplyRouter) WaitForReply(ctx context.Context, channelID, authorID string) (string, error) {
	w := &waiter{channelID: channelID, authorID: authorID, ch: make(chan string, 1)}
	r.mu.Lock()
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()
	defer r.remove(w)

	select {
	case content := <-w.ch:
		return content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Offer gives m to the oldest matching waiter. It reports whether m was consumed.
func (r *ReplyRouter) Offer(m Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w.channelID != m.ChannelID || w.authorID != m.AuthorID {
			continue
		}
		r.waiters = slices.Delete(r.waiters, i, i+1)
		w.ch <- m.Content
		return true
	}
	return false
}

func (r *ReplyRouter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *ReplyRouter) remove(w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := slices.Index(r.waiters, w); i >= 0 {
		r.waiters = slices.Delete(r.waiters, i, i+1)
	}
}
