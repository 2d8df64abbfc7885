// Package queue implements the pending-request FIFO of a playback session.
//
// A Queue is not safe for concurrent use; it is owned by the session goroutine.
package queue

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/sonroyaalmerol/jukebot/internal/media"
	"github.com/sonroyaalmerol/jukebot/internal/stream"
)

type node struct {
	entry *media.Entry
	next  *node
}

// Queue is a singly linked list with sentinel head and tail nodes.
// last points at the final real node, or at head when the queue is empty.
type Queue struct {
	head *node
	tail *node
	last *node
	size int
	log  *slog.Logger
}

func New(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{head: &node{}, tail: &node{}, log: logger}
	q.head.next = q.tail
	q.last = q.head
	return q
}

// Enqueue appends a new entry built from the parts. It returns false and leaves
// the queue unchanged if any part is missing.
func (q *Queue) Enqueue(d *media.Descriptor, rc *media.RequestContext, s *stream.Stream) bool {
	e, err := media.NewEntry(d, rc, s)
	if err != nil {
		q.log.Debug("enqueue rejected", "err", err)
		return false
	}
	q.push(e)
	return true
}

// Push appends an already built entry.
func (q *Queue) Push(e *media.Entry) bool {
	if e == nil || e.Media == nil || e.Request == nil || e.Stream == nil {
		return false
	}
	q.push(e)
	return true
}

func (q *Queue) push(e *media.Entry) {
	n := &node{entry: e, next: q.tail}
	q.last.next = n
	q.last = n
	q.size++
	q.log.Debug("enqueued", "title", e.Title(), "size", q.size)
}

func (q *Queue) Dequeue() *media.Entry {
	return q.RemoveAt(1)
}

// RemoveAt unlinks the entry at the 1-based position pos. Positions outside
// 1..Len() return nil and leave the queue unchanged.
func (q *Queue) RemoveAt(pos int) *media.Entry {
	if pos < 1 || pos > q.size {
		q.log.Debug("remove out of range", "pos", pos, "size", q.size)
		return nil
	}
	prev := q.head
	for i := 1; i < pos; i++ {
		prev = prev.next
	}
	n := prev.next
	prev.next = n.next
	if n == q.last {
		q.last = prev
	}
	q.size--
	n.next = nil
	q.log.Debug("removed", "pos", pos, "title", n.entry.Title(), "size", q.size)
	return n.entry
}

// Find returns the entry at the 1-based position pos without removing it.
func (q *Queue) Find(pos int) *media.Entry {
	if pos < 1 || pos > q.size {
		return nil
	}
	n := q.head.next
	for i := 1; i < pos; i++ {
		n = n.next
	}
	return n.entry
}

func (q *Queue) IsEmpty() bool { return q.size == 0 }

func (q *Queue) Len() int { return q.size }

// Entries returns the queued entries in dequeue order.
func (q *Queue) Entries() []*media.Entry {
	out := make([]*media.Entry, 0, q.size)
	for n := q.head.next; n != q.tail; n = n.next {
		out = append(out, n.entry)
	}
	return out
}

// Clear empties the queue and returns what it held.
func (q *Queue) Clear() []*media.Entry {
	out := q.Entries()
	q.head.next = q.tail
	q.last = q.head
	q.size = 0
	return out
}

// Render lists the queue as "1. title\n2. title\n". An empty queue renders as "".
func (q *Queue) Render() string {
	var b strings.Builder
	i := 1
	for n := q.head.next; n != q.tail; n = n.next {
		b.WriteString(strconv.Itoa(i))
		b.WriteString(". ")
		b.WriteString(n.entry.Title())
		b.WriteByte('\n')
		i++
	}
	return b.String()
}
