package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonroyaalmerol/jukebot/internal/media"
	"github.com/sonroyaalmerol/jukebot/internal/stream"
)

type fakeConn struct {
	mu          sync.Mutex
	channel     string
	after       func(error)
	src         stream.Source
	playing     bool
	paused      bool
	plays       int
	moves       int
	disconnects int
	playErr     error
	disconnErr  error

	callbacks atomic.Int32 // completions that have returned
}

func (c *fakeConn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *fakeConn) Move(_ context.Context, ch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = ch
	c.moves++
	return nil
}

func (c *fakeConn) SetChannelID(ch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = ch
}

func (c *fakeConn) Play(src stream.Source, after func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playErr != nil {
		return c.playErr
	}
	c.src = src
	c.after = after
	c.playing = true
	c.paused = false
	c.plays++
	return nil
}

func (c *fakeConn) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *fakeConn) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *fakeConn) Stop() { c.finish(nil) }

// finish ends the current source the way the voice goroutine does: the
// completion runs on its own goroutine.
func (c *fakeConn) finish(err error) {
	c.mu.Lock()
	a := c.after
	c.after = nil
	c.playing = false
	c.paused = false
	c.mu.Unlock()
	if a == nil {
		return
	}
	go func() {
		a(err)
		c.callbacks.Add(1)
	}()
}

func (c *fakeConn) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *fakeConn) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *fakeConn) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return c.disconnErr
}

func (c *fakeConn) stats() (plays, moves, disconnects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plays, c.moves, c.disconnects
}

type fakeVoice struct {
	mu    sync.Mutex
	joins int
	conns []*fakeConn
	err   error
}

func (v *fakeVoice) Join(_ context.Context, _ string, ch string) (Connection, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	v.joins++
	c := &fakeConn{channel: ch}
	v.conns = append(v.conns, c)
	return c, nil
}

func (v *fakeVoice) last() *fakeConn {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.conns) == 0 {
		return nil
	}
	return v.conns[len(v.conns)-1]
}

func (v *fakeVoice) joinCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.joins
}

type sentMessage struct {
	channelID, content string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *fakeMessenger) Send(channelID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{channelID, content})
	return nil
}

func (m *fakeMessenger) contents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.content)
	}
	return out
}

func (m *fakeMessenger) has(content string) bool {
	return slices.Contains(m.contents(), content)
}

type fakeResolver struct {
	candidates []*media.Descriptor
	err        error
}

func (r *fakeResolver) ResolveOne(_ context.Context, uri string) (*media.Descriptor, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &media.Descriptor{Title: path.Base(uri), SourceURI: uri, Duration: 3 * time.Minute}, nil
}

func (r *fakeResolver) ResolveCandidates(_ context.Context, _ string, limit int) ([]*media.Descriptor, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.candidates) > limit {
		return r.candidates[:limit], nil
	}
	return r.candidates, nil
}

// fakeReplies hands out queued replies; with none queued it blocks until ctx ends.
type fakeReplies struct {
	replies chan string
}

func (f *fakeReplies) WaitForReply(ctx context.Context, _, _ string) (string, error) {
	select {
	case r := <-f.replies:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type silentOpener struct{}

func (silentOpener) Open(context.Context, string, time.Duration) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(make([]byte, stream.FrameBytes*10))), nil
}

type fakeStreams struct {
	mu      sync.Mutex
	created []*stream.Stream
}

func (f *fakeStreams) NewStream(uri string, offset time.Duration) *stream.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := stream.New(silentOpener{}, uri, offset)
	f.created = append(f.created, s)
	return s
}

func (f *fakeStreams) get(i int) *stream.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

type harness struct {
	t        *testing.T
	p        *Player
	voice    *fakeVoice
	msgs     *fakeMessenger
	resolver *fakeResolver
	replies  *fakeReplies
	streams  *fakeStreams
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		voice:    &fakeVoice{},
		msgs:     &fakeMessenger{},
		resolver: &fakeResolver{},
		replies:  &fakeReplies{replies: make(chan string, 4)},
		streams:  &fakeStreams{},
	}
	h.p = NewPlayer("g1", Deps{
		Voice:         h.voice,
		Messenger:     h.msgs,
		Resolver:      h.resolver,
		Replies:       h.replies,
		Streams:       h.streams,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		SearchResults: 5,
		ChoiceTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(h.p.Close)
	return h
}

func (h *harness) req(args string) Request {
	return Request{
		GuildID:        "g1",
		AuthorID:       "u1",
		AuthorName:     "user",
		ChannelID:      "text",
		VoiceChannelID: "voice1",
		Content:        args,
		Args:           args,
	}
}

func (h *harness) state() State {
	h.t.Helper()
	st, err := h.p.State(context.Background())
	if err != nil {
		h.t.Fatal(err)
	}
	return st
}

func (h *harness) nowPlaying() string {
	h.t.Helper()
	s, ok, err := h.p.NowPlaying(context.Background())
	if err != nil {
		h.t.Fatal(err)
	}
	if !ok {
		return ""
	}
	title, _, _ := strings.Cut(s, " [")
	return title
}

func (h *harness) list() string {
	h.t.Helper()
	s, err := h.p.List(context.Background())
	if err != nil {
		h.t.Fatal(err)
	}
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errBoom = errors.New("boom")
