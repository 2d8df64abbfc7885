package queue

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sonroyaalmerol/jukebot/internal/media"
	"github.com/sonroyaalmerol/jukebot/internal/stream"
)

type nopOpener struct{}

func (nopOpener) Open(context.Context, string, time.Duration) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func add(t *testing.T, q *Queue, title string) {
	t.Helper()
	ok := q.Enqueue(&media.Descriptor{Title: title}, &media.RequestContext{ChannelID: "c"}, stream.New(nopOpener{}, title, 0))
	if !ok {
		t.Fatalf("enqueue %q failed", title)
	}
}

func titles(q *Queue) []string {
	var out []string
	for _, e := range q.Entries() {
		out = append(out, e.Title())
	}
	return out
}

func TestFIFO(t *testing.T) {
	q := New(nil)
	for _, s := range []string{"A", "B", "C"} {
		add(t, q, s)
	}
	for _, want := range []string{"A", "B", "C"} {
		e := q.Dequeue()
		if e == nil || e.Title() != want {
			t.Fatalf("dequeue = %v, want %s", e, want)
		}
	}
	if q.Dequeue() != nil {
		t.Fatal("dequeue on empty queue must return nil")
	}
	if !q.IsEmpty() || q.Len() != 0 {
		t.Fatal("queue should be empty")
	}

	// tail pointer must be reset so appends after draining still work
	add(t, q, "D")
	if got := q.Dequeue(); got == nil || got.Title() != "D" {
		t.Fatalf("dequeue after drain = %v", got)
	}
}

func TestEnqueueRejectsMissingParts(t *testing.T) {
	q := New(nil)
	s := stream.New(nopOpener{}, "x", 0)
	if q.Enqueue(nil, &media.RequestContext{}, s) {
		t.Fatal("accepted nil descriptor")
	}
	if q.Enqueue(&media.Descriptor{}, nil, s) {
		t.Fatal("accepted nil request")
	}
	if q.Enqueue(&media.Descriptor{}, &media.RequestContext{}, nil) {
		t.Fatal("accepted nil stream")
	}
	if q.Push(nil) {
		t.Fatal("accepted nil entry")
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d", q.Len())
	}
}

func TestRemoveAtOneMatchesDequeue(t *testing.T) {
	a, b := New(nil), New(nil)
	for _, s := range []string{"A", "B", "C"} {
		add(t, a, s)
		add(t, b, s)
	}
	if a.RemoveAt(1).Title() != b.Dequeue().Title() {
		t.Fatal("RemoveAt(1) and Dequeue disagree")
	}
	if got, want := titles(a), titles(b); len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("queues diverged: %v vs %v", got, want)
	}
}

func TestRemoveAtBounds(t *testing.T) {
	q := New(nil)
	for _, s := range []string{"A", "B", "C"} {
		add(t, q, s)
	}
	for _, pos := range []int{-1, 0, 4, 100} {
		if q.RemoveAt(pos) != nil {
			t.Errorf("RemoveAt(%d) should be rejected", pos)
		}
		if q.Find(pos) != nil {
			t.Errorf("Find(%d) should be rejected", pos)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("rejected removals changed the queue: len=%d", q.Len())
	}
	if q.Find(3).Title() != "C" {
		t.Fatal("Find(3) should reach the last entry")
	}
}

func TestRemoveLastUpdatesTail(t *testing.T) {
	q := New(nil)
	for _, s := range []string{"A", "B", "C"} {
		add(t, q, s)
	}
	if e := q.RemoveAt(3); e == nil || e.Title() != "C" {
		t.Fatalf("RemoveAt(3) = %v", e)
	}
	add(t, q, "D")
	got := titles(q)
	want := []string{"A", "B", "D"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRemoveMiddle(t *testing.T) {
	q := New(nil)
	for _, s := range []string{"A", "B", "C"} {
		add(t, q, s)
	}
	if e := q.RemoveAt(2); e.Title() != "B" {
		t.Fatalf("RemoveAt(2) = %s", e.Title())
	}
	if q.Render() != "1. A\n2. C\n" {
		t.Fatalf("Render = %q", q.Render())
	}
}

func TestRenderAndClear(t *testing.T) {
	q := New(nil)
	if q.Render() != "" {
		t.Fatal("empty queue must render empty")
	}
	add(t, q, "A")
	add(t, q, "B")
	if got := q.Render(); got != "1. A\n2. B\n" {
		t.Fatalf("Render = %q", got)
	}
	drained := q.Clear()
	if len(drained) != 2 || !q.IsEmpty() {
		t.Fatalf("Clear returned %d entries, len now %d", len(drained), q.Len())
	}
	add(t, q, "C")
	if q.Render() != "1. C\n" {
		t.Fatalf("Render after clear = %q", q.Render())
	}
}
