package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sonroyaalmerol/jukebot/internal/media"
	"github.com/sonroyaalmerol/jukebot/internal/queue"
)

const disconnectTimeout = 3 * time.Second

// Player is the playback session of one guild. Every field below the task
// channel is owned by the run goroutine; public methods hand closures to it
// and wait for them, so operations on one guild never interleave.
type Player struct {
	guildID string
	deps    Deps
	log     *slog.Logger

	tasks     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	conn    Connection
	current *media.Entry
	paused  bool
	queue   *queue.Queue
	// gen identifies the playback whose completion is still wanted.
	gen uint64
}

func NewPlayer(guildID string, deps Deps) *Player {
	deps = deps.withDefaults()
	p := &Player{
		guildID: guildID,
		deps:    deps,
		log:     deps.Logger.With("guildID", guildID),
		tasks:   make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		queue:   queue.New(deps.QueueLogger.With("guildID", guildID)),
	}
	go p.run()
	return p
}

func (p *Player) GuildID() string { return p.guildID }

func (p *Player) run() {
	defer close(p.done)
	for {
		select {
		case t := <-p.tasks:
			t()
		case <-p.quit:
			return
		}
	}
}

// submit runs fn on the player goroutine and returns its result. It fails with
// ErrHandoff if ctx ends first and ErrClosed once the player has shut down.
func (p *Player) submit(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	t := func() { res <- p.safeRun(fn) }
	select {
	case p.tasks <- t:
	case <-p.quit:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrHandoff, ctx.Err())
	}
	return <-res
}

func (p *Player) safeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("player task panic recovered", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("player task panic: %v", r)
		}
	}()
	return fn()
}

// Close stops the run goroutine. Pending and later calls fail with ErrClosed.
func (p *Player) Close() {
	p.closeOnce.Do(func() { close(p.quit) })
	<-p.done
}

func (p *Player) say(channelID, content string) {
	if channelID == "" || p.deps.Messenger == nil {
		return
	}
	if err := p.deps.Messenger.Send(channelID, content); err != nil {
		p.log.Warn("send message", "channelID", channelID, "err", err)
	}
}

func (p *Player) stateLocked() State {
	switch {
	case p.conn == nil:
		return StateIdle
	case p.current == nil:
		return StateConnectedIdle
	case p.paused:
		return StatePaused
	default:
		return StatePlaying
	}
}

func (p *Player) State(ctx context.Context) (State, error) {
	var st State
	err := p.submit(ctx, func() error {
		st = p.stateLocked()
		return nil
	})
	return st, err
}

func (p *Player) QueueLen(ctx context.Context) (int, error) {
	var n int
	err := p.submit(ctx, func() error {
		n = p.queue.Len()
		return nil
	})
	return n, err
}

// ChannelID returns the joined voice channel, or "" when not joined.
func (p *Player) ChannelID(ctx context.Context) (string, error) {
	var id string
	err := p.submit(ctx, func() error {
		if p.conn != nil {
			id = p.conn.ChannelID()
		}
		return nil
	})
	return id, err
}

func (p *Player) Join(ctx context.Context, req Request) error {
	if req.VoiceChannelID == "" {
		p.say(req.ChannelID, "Join a voice channel.")
		return ErrNotInVoice
	}
	return p.submit(ctx, func() error { return p.joinLocked(ctx, req.VoiceChannelID) })
}

func (p *Player) joinLocked(ctx context.Context, channelID string) error {
	if p.conn == nil {
		conn, err := p.deps.Voice.Join(ctx, p.guildID, channelID)
		if err != nil {
			return fmt.Errorf("%w: join %s: %w", ErrTransport, channelID, err)
		}
		p.conn = conn
		p.log.Info("joined voice", "channelID", channelID)
		return nil
	}
	if p.conn.ChannelID() == channelID {
		p.log.Debug("already in channel", "channelID", channelID)
		return nil
	}
	from := p.conn.ChannelID()
	if err := p.conn.Move(ctx, channelID); err != nil {
		return fmt.Errorf("%w: move to %s: %w", ErrTransport, channelID, err)
	}
	p.log.Info("moved voice", "from", from, "to", channelID)
	return nil
}

// Leave disconnects and drops the now-playing entry. The queue is kept.
// Leaving while not joined is a no-op.
func (p *Player) Leave(ctx context.Context) error {
	return p.submit(ctx, func() error { return p.leaveLocked() })
}

// HandleVoiceDisconnect cleans up after the connection was closed from outside,
// e.g. the bot was kicked from the channel.
func (p *Player) HandleVoiceDisconnect(ctx context.Context) error {
	return p.submit(ctx, func() error {
		if p.conn == nil {
			return nil
		}
		p.log.Info("voice connection closed externally")
		return p.leaveLocked()
	})
}

// HandleVoiceMoved records that the connection now sits in channelID.
func (p *Player) HandleVoiceMoved(ctx context.Context, channelID string) error {
	return p.submit(ctx, func() error {
		if p.conn == nil || p.conn.ChannelID() == channelID {
			return nil
		}
		p.log.Info("voice moved externally", "from", p.conn.ChannelID(), "to", channelID)
		p.conn.SetChannelID(channelID)
		return nil
	})
}

func (p *Player) leaveLocked() error {
	if p.conn == nil {
		return nil
	}
	p.stopCurrentLocked()
	conn := p.conn
	p.conn = nil
	p.log.Info("left voice", "channelID", conn.ChannelID())
	return p.safeDisconnect(conn)
}

func (p *Player) safeDisconnect(conn Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("voice disconnect panic recovered", "panic", r)
			err = fmt.Errorf("%w: disconnect panic: %v", ErrTransport, r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := conn.Disconnect(ctx); err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrTransport, err)
	}
	return nil
}

// stopCurrentLocked drops the now-playing entry without advancing. Its
// completion will arrive with an old generation and be ignored.
func (p *Player) stopCurrentLocked() {
	if p.current == nil {
		return
	}
	p.gen++
	old := p.current
	p.current = nil
	p.paused = false
	if p.conn != nil {
		p.conn.Stop()
	}
	old.Dispose()
}

// Play joins the requester's channel and plays the requested media now,
// replacing whatever is playing. With no arguments it resumes the queue.
func (p *Player) Play(ctx context.Context, req Request) error {
	if err := p.Join(ctx, req); err != nil {
		return err
	}

	if strings.TrimSpace(req.Args) == "" {
		started := false
		err := p.submit(ctx, func() error {
			if p.current != nil || p.queue.IsEmpty() {
				return nil
			}
			started = true
			return p.playNextLocked()
		})
		if err != nil || started {
			return err
		}
	}

	d, err := p.resolve(ctx, req)
	if err != nil {
		return err
	}
	rc := req.requestContext()
	return p.submit(ctx, func() error {
		if p.conn == nil {
			return ErrNotJoined
		}
		e, err := media.NewEntry(d, rc, p.deps.Streams.NewStream(d.SourceURI, 0))
		if err != nil {
			return err
		}
		if p.current != nil {
			p.log.Info("replacing current entry", "old", p.current.Title(), "new", d.Title)
			p.stopCurrentLocked()
		}
		return p.startLocked(e)
	})
}

func (p *Player) startLocked(e *media.Entry) error {
	p.gen++
	g := p.gen
	if err := p.conn.Play(e.Stream, func(err error) { p.onStreamEnd(g, err) }); err != nil {
		e.Dispose()
		return fmt.Errorf("%w: play %q: %w", ErrTransport, e.Title(), err)
	}
	p.current = e
	p.paused = false
	p.log.Info("playing", "title", e.Title(), "uri", e.Media.SourceURI, "requester", e.Request.RequesterName)
	p.say(e.Request.ChannelID, fmt.Sprintf("Playing %s.", e.Title()))
	return nil
}

// playNextLocked starts the first queued entry that the connection accepts.
func (p *Player) playNextLocked() error {
	for {
		e := p.queue.Dequeue()
		if e == nil {
			p.log.Info("queue empty, waiting")
			return nil
		}
		if err := p.startLocked(e); err != nil {
			p.log.Error("start queued entry", "title", e.Title(), "err", err)
			continue
		}
		return nil
	}
}

// onStreamEnd runs on the voice goroutine. It blocks until advance has run on
// the player goroutine.
func (p *Player) onStreamEnd(g uint64, streamErr error) {
	if streamErr != nil {
		p.log.Warn("stream ended with error", "err", streamErr)
	}
	if err := p.submit(context.Background(), func() error { return p.advanceLocked(g) }); err != nil {
		p.log.Error("completion handoff failed", "err", err)
	}
}

func (p *Player) advanceLocked(g uint64) error {
	if g != p.gen || p.current == nil {
		p.log.Debug("ignoring stale completion", "gen", g, "current", p.gen)
		return nil
	}
	finished := p.current
	p.current = nil
	p.paused = false
	finished.Dispose()
	p.log.Info("finished", "title", finished.Title())

	if p.conn == nil {
		return nil
	}
	return p.playNextLocked()
}

func (p *Player) Pause(ctx context.Context, req Request) error {
	return p.submit(ctx, func() error {
		switch {
		case p.conn == nil:
			return ErrNotJoined
		case p.current == nil || p.paused:
			return fmt.Errorf("%w: pause while %s", ErrWrongState, p.stateLocked())
		}
		p.conn.Pause()
		p.paused = true
		p.say(req.ChannelID, "Paused.")
		return nil
	})
}

func (p *Player) Resume(ctx context.Context, req Request) error {
	return p.submit(ctx, func() error {
		switch {
		case p.conn == nil:
			return ErrNotJoined
		case p.current == nil || !p.paused:
			return fmt.Errorf("%w: resume while %s", ErrWrongState, p.stateLocked())
		}
		p.conn.Resume()
		p.paused = false
		p.say(req.ChannelID, "Resumed.")
		return nil
	})
}

// Skip stops the current stream. Its completion advances the queue. Only a
// playing entry can be skipped; a paused one must be resumed first.
func (p *Player) Skip(ctx context.Context, req Request) error {
	return p.submit(ctx, func() error {
		switch {
		case p.conn == nil:
			return ErrNotJoined
		case p.current == nil || p.paused:
			return fmt.Errorf("%w: skip while %s", ErrWrongState, p.stateLocked())
		}
		p.say(req.ChannelID, "Skipped.")
		p.conn.Stop()
		return nil
	})
}

// NowPlaying returns "title [elapsed/duration]" for the current entry.
func (p *Player) NowPlaying(ctx context.Context) (string, bool, error) {
	var summary string
	var ok bool
	err := p.submit(ctx, func() error {
		if p.current != nil {
			summary, ok = p.current.Summary(), true
		}
		return nil
	})
	return summary, ok, err
}

func (p *Player) List(ctx context.Context) (string, error) {
	var out string
	err := p.submit(ctx, func() error {
		out = p.queue.Render()
		return nil
	})
	return out, err
}

// Add resolves the request and appends it to the queue without starting playback.
func (p *Player) Add(ctx context.Context, req Request) error {
	d, err := p.resolve(ctx, req)
	if err != nil {
		return err
	}
	rc := req.requestContext()
	return p.submit(ctx, func() error {
		if !p.queue.Enqueue(d, rc, p.deps.Streams.NewStream(d.SourceURI, 0)) {
			return fmt.Errorf("%w: enqueue %q", ErrResolution, d.Title)
		}
		p.say(req.ChannelID, fmt.Sprintf("Enqueued %s.", d.Title))
		return nil
	})
}

// Remove drops the queue entry at the 1-based position given in req.Args.
func (p *Player) Remove(ctx context.Context, req Request) error {
	pos, err := strconv.Atoi(strings.TrimSpace(req.Args))
	if err != nil {
		p.say(req.ChannelID, "Invalid input.")
		return fmt.Errorf("%w: position %q", ErrUserInput, req.Args)
	}
	return p.submit(ctx, func() error {
		e := p.queue.RemoveAt(pos)
		if e == nil {
			p.say(req.ChannelID, "Invalid input.")
			return fmt.Errorf("%w: position %d out of range", ErrUserInput, pos)
		}
		e.Dispose()
		p.say(req.ChannelID, fmt.Sprintf("Removed %s.", e.Title()))
		return nil
	})
}

// Shutdown leaves voice, releases queued streams and stops the player.
func (p *Player) Shutdown(ctx context.Context) error {
	err := p.submit(ctx, func() error {
		lerr := p.leaveLocked()
		for _, e := range p.queue.Clear() {
			e.Dispose()
		}
		return lerr
	})
	p.Close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
