package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 2
	FrameSamples  = 960 // samples per channel in one frame
	FrameBytes    = FrameSamples * Channels * 2
	FrameDuration = 20 * time.Millisecond
)

var ErrClosed = errors.New("stream closed")

// Opener starts the byte producer for a source. The returned reader yields
// interleaved s16le PCM at 48 kHz stereo.
type Opener interface {
	Open(ctx context.Context, uri string, offset time.Duration) (io.ReadCloser, error)
}

// Source is what a voice connection consumes: fixed-size PCM frames.
type Source interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// Stream is a lazily opened PCM source bound to one URI and start offset.
// Elapsed time is derived from the number of frames handed out, not from the wall clock.
type Stream struct {
	opener Opener
	uri    string
	offset time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	openMu sync.Mutex // serialises opens
	mu     sync.Mutex
	rc     io.ReadCloser
	br     *bufio.Reader
	closed bool

	frames    atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

func New(opener Opener, uri string, offset time.Duration) *Stream {
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		opener: opener,
		uri:    uri,
		offset: offset,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Stream) URI() string { return s.uri }

func (s *Stream) Offset() time.Duration { return s.offset }

func (s *Stream) Frames() int64 { return s.frames.Load() }

func (s *Stream) Elapsed() time.Duration {
	return time.Duration(s.frames.Load())*FrameDuration + s.offset
}

// Opened reports whether the underlying producer has been started.
func (s *Stream) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rc != nil
}

// reader opens the producer on first use. Open runs without holding mu so
// Close can cancel a slow open.
func (s *Stream) reader() (*bufio.Reader, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	closed, br := s.closed, s.br
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if br != nil {
		return br, nil
	}

	rc, err := s.opener.Open(s.ctx, s.uri, s.offset)
	if err != nil {
		if s.isClosed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("open %s: %w", s.uri, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = rc.Close()
		return nil, ErrClosed
	}
	s.rc = rc
	s.br = bufio.NewReaderSize(rc, 64*1024)
	return s.br, nil
}

// ReadFrame returns the next 20 ms frame. A short trailing frame is padded with
// silence; the read after it returns io.EOF.
func (s *Stream) ReadFrame() ([]byte, error) {
	br, err := s.reader()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, FrameBytes)
	n, err := io.ReadFull(br, buf)
	if s.isClosed() {
		return nil, ErrClosed
	}
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF) && n > 0:
		clear(buf[n:])
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read pcm: %w", err)
	}
	s.frames.Add(1)
	return buf, nil
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the producer. Safe to call more than once and from any goroutine.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		rc := s.rc
		s.mu.Unlock()

		if rc != nil {
			s.closeErr = rc.Close()
		}
	})
	return s.closeErr
}
