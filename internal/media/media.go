// Package media holds the values that travel through a guild's playback session:
// what was resolved, who asked for it and the stream that will play it.
package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/sonroyaalmerol/jukebot/internal/stream"
	"github.com/sonroyaalmerol/jukebot/internal/utils"
)

var ErrIncomplete = errors.New("entry requires media, request and stream")

// Descriptor is resolved metadata. It is never mutated after the resolver returns it.
type Descriptor struct {
	Title     string
	SourceURI string
	Duration  time.Duration
	Uploader  string
}

// RequestContext is captured once when a user issues a play or add request.
type RequestContext struct {
	GuildID       string
	RequesterID   string
	RequesterName string
	ChannelID     string
	Content       string
}

type Entry struct {
	Media   *Descriptor
	Request *RequestContext
	Stream  *stream.Stream
}

func NewEntry(d *Descriptor, rc *RequestContext, s *stream.Stream) (*Entry, error) {
	if d == nil || rc == nil || s == nil {
		return nil, ErrIncomplete
	}
	return &Entry{Media: d, Request: rc, Stream: s}, nil
}

func (e *Entry) Title() string {
	if e == nil || e.Media == nil {
		return ""
	}
	return e.Media.Title
}

func (e *Entry) Elapsed() time.Duration {
	if e == nil || e.Stream == nil {
		return 0
	}
	return e.Stream.Elapsed()
}

// Summary renders "title [elapsed/duration]".
func (e *Entry) Summary() string {
	total := "live"
	if e.Media.Duration > 0 {
		total = utils.PrettyDuration(e.Media.Duration)
	}
	return fmt.Sprintf("%s [%s/%s]", e.Media.Title, utils.PrettyDuration(e.Elapsed()), total)
}

// Dispose releases the entry's stream. Calling it more than once is harmless.
func (e *Entry) Dispose() {
	if e == nil || e.Stream == nil {
		return
	}
	_ = e.Stream.Close()
}
