package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"sync/atomic"
	"testing"
	"time"
)

type fakeOpener struct {
	data   []byte
	err    error
	opens  atomic.Int32
	closes atomic.Int32
	offset time.Duration
}

type trackedReader struct {
	io.Reader
	o *fakeOpener
}

func (r *trackedReader) Close() error {
	r.o.closes.Add(1)
	return nil
}

func (o *fakeOpener) Open(_ context.Context, _ string, offset time.Duration) (io.ReadCloser, error) {
	o.opens.Add(1)
	o.offset = offset
	if o.err != nil {
		return nil, o.err
	}
	return &trackedReader{Reader: bytes.NewReader(o.data), o: o}, nil
}

func TestStreamLazyOpenAndElapsed(t *testing.T) {
	o := &fakeOpener{data: make([]byte, FrameBytes*3)}
	s := New(o, "https://example.com/a", 10*time.Second)

	if o.opens.Load() != 0 || s.Opened() {
		t.Fatal("stream opened before first read")
	}
	if s.Elapsed() != 10*time.Second {
		t.Fatalf("elapsed before read = %v", s.Elapsed())
	}

	for i := 0; i < 3; i++ {
		frame, err := s.ReadFrame()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(frame) != FrameBytes {
			t.Fatalf("frame len = %d", len(frame))
		}
	}
	if _, err := s.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if o.opens.Load() != 1 {
		t.Fatalf("opens = %d, want 1", o.opens.Load())
	}
	if o.offset != 10*time.Second {
		t.Fatalf("opener got offset %v", o.offset)
	}
	want := 10*time.Second + 3*FrameDuration
	if s.Elapsed() != want {
		t.Fatalf("elapsed = %v, want %v", s.Elapsed(), want)
	}
}

func TestStreamPadsShortFrame(t *testing.T) {
	data := bytes.Repeat([]byte{1}, FrameBytes+10)
	s := New(&fakeOpener{data: data}, "x", 0)

	if _, err := s.ReadFrame(); err != nil {
		t.Fatal(err)
	}
	frame, err := s.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if frame[9] != 1 || frame[10] != 0 || frame[FrameBytes-1] != 0 {
		t.Fatal("short frame not padded with silence")
	}
	if _, err := s.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if s.Frames() != 2 {
		t.Fatalf("frames = %d", s.Frames())
	}
}

func TestStreamCloseOnce(t *testing.T) {
	o := &fakeOpener{data: make([]byte, FrameBytes*2)}
	s := New(o, "x", 0)
	if _, err := s.ReadFrame(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if o.closes.Load() != 1 {
		t.Fatalf("producer closed %d times", o.closes.Load())
	}
	if _, err := s.ReadFrame(); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
}

func TestStreamCloseBeforeOpen(t *testing.T) {
	o := &fakeOpener{}
	s := New(o, "x", 0)
	_ = s.Close()
	if _, err := s.ReadFrame(); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
	if o.opens.Load() != 0 {
		t.Fatal("closed stream must not spawn a producer")
	}
}

func TestStreamOpenError(t *testing.T) {
	boom := errors.New("boom")
	s := New(&fakeOpener{err: boom}, "x", 0)
	if _, err := s.ReadFrame(); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped open error, got %v", err)
	}
}

type staticLocator string

func (l staticLocator) StreamURL(context.Context, string) (string, error) { return string(l), nil }

func TestFFmpegArgs(t *testing.T) {
	f := NewFFmpeg("", staticLocator("https://cdn.example/x"), nil)
	if f.Path != "ffmpeg" {
		t.Fatalf("default path = %q", f.Path)
	}
	f.Headers = map[string]string{"User-Agent": "ua"}

	args := f.args("https://cdn.example/x", 90*time.Second)
	i := slices.Index(args, "-ss")
	if i < 0 || args[i+1] != "90.000" {
		t.Fatalf("missing seek in %v", args)
	}
	if j := slices.Index(args, "-i"); j < i || args[j+1] != "https://cdn.example/x" {
		t.Fatalf("seek must precede input: %v", args)
	}
	if h := slices.Index(args, "-headers"); h < 0 || args[h+1] != "User-Agent: ua\r\n" {
		t.Fatalf("headers missing: %v", args)
	}
	if args[len(args)-1] != "pipe:1" || !slices.Contains(args, "s16le") {
		t.Fatalf("bad output args: %v", args)
	}

	local := f.args("/tmp/a.mp3", 0)
	if slices.Contains(local, "-ss") || slices.Contains(local, "-headers") {
		t.Fatalf("unexpected args for local file at offset 0: %v", local)
	}
}

// ctxOpener blocks until its context is canceled.
type ctxOpener struct {
	entered chan struct{}
}

func (o *ctxOpener) Open(ctx context.Context, _ string, _ time.Duration) (io.ReadCloser, error) {
	close(o.entered)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCloseCancelsPendingOpen(t *testing.T) {
	o := &ctxOpener{entered: make(chan struct{})}
	s := New(o, "https://example.com/slow", 0)

	readErr := make(chan error, 1)
	go func() {
		_, err := s.ReadFrame()
		readErr <- err
	}()
	<-o.entered

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind a pending open")
	}

	select {
	case err := <-readErr:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("read err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending open not canceled")
	}
}

// gatedOpener ignores ctx and returns once released.
type gatedOpener struct {
	entered chan struct{}
	release chan struct{}
	closes  atomic.Int32
}

func (o *gatedOpener) Open(context.Context, string, time.Duration) (io.ReadCloser, error) {
	close(o.entered)
	<-o.release
	return &countingCloser{Reader: bytes.NewReader(make([]byte, FrameBytes)), n: &o.closes}, nil
}

type countingCloser struct {
	io.Reader
	n *atomic.Int32
}

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return nil
}

func TestOpenFinishingAfterCloseIsReleased(t *testing.T) {
	o := &gatedOpener{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(o, "https://example.com/late", 0)

	readErr := make(chan error, 1)
	go func() {
		_, err := s.ReadFrame()
		readErr <- err
	}()
	<-o.entered

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	close(o.release)

	if err := <-readErr; !errors.Is(err, ErrClosed) {
		t.Fatalf("read err = %v", err)
	}
	if o.closes.Load() != 1 {
		t.Fatalf("late reader closed %d times", o.closes.Load())
	}
	if s.Opened() {
		t.Fatal("closed stream reports opened")
	}
}
