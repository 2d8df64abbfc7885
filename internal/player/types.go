package player

import (
	"context"
	"log/slog"
	"time"

	"github.com/sonroyaalmerol/jukebot/internal/media"
	"github.com/sonroyaalmerol/jukebot/internal/stream"
)

type State int

const (
	StateIdle State = iota
	StateConnectedIdle
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnectedIdle:
		return "connected-idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// Request is one inbound command after parsing.
type Request struct {
	GuildID        string
	AuthorID       string
	AuthorName     string
	ChannelID      string // where replies go
	VoiceChannelID string // requester's voice channel, empty when not in voice
	Content        string
	Args           string
}

func (r Request) requestContext() *media.RequestContext {
	return &media.RequestContext{
		GuildID:       r.GuildID,
		RequesterID:   r.AuthorID,
		RequesterName: r.AuthorName,
		ChannelID:     r.ChannelID,
		Content:       r.Content,
	}
}

// Voice opens voice connections for a guild.
type Voice interface {
	Join(ctx context.Context, guildID, channelID string) (Connection, error)
}

// Connection is a joined voice channel that plays one source at a time.
//
// Play must return immediately. after is called exactly once from another
// goroutine when the source ends, fails or is stopped. Stop and Disconnect
// must not wait for that goroutine.
type Connection interface {
	ChannelID() string
	Move(ctx context.Context, channelID string) error
	// SetChannelID records a move made outside the bot, e.g. by a moderator.
	SetChannelID(channelID string)
	Play(src stream.Source, after func(error)) error
	Pause()
	Resume()
	Stop()
	IsPlaying() bool
	IsPaused() bool
	Disconnect(ctx context.Context) error
}

type Messenger interface {
	Send(channelID, content string) error
}

type Resolver interface {
	ResolveOne(ctx context.Context, uri string) (*media.Descriptor, error)
	ResolveCandidates(ctx context.Context, query string, limit int) ([]*media.Descriptor, error)
}

// ReplyWaiter blocks until authorID posts in channelID or ctx is done.
type ReplyWaiter interface {
	WaitForReply(ctx context.Context, channelID, authorID string) (string, error)
}

type StreamFactory interface {
	NewStream(uri string, offset time.Duration) *stream.Stream
}

type Deps struct {
	Voice     Voice
	Messenger Messenger
	Resolver  Resolver
	Replies   ReplyWaiter
	Streams   StreamFactory

	Logger      *slog.Logger
	QueueLogger *slog.Logger

	SearchResults int
	ChoiceTimeout time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.QueueLogger == nil {
		d.QueueLogger = d.Logger
	}
	if d.SearchResults <= 0 {
		d.SearchResults = 5
	}
	if d.ChoiceTimeout <= 0 {
		d.ChoiceTimeout = 30 * time.Second
	}
	return d
}
