// Package voice adapts discordgo voice connections to the player's Connection
// interface and streams PCM sources to them as Opus.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/jukebot/internal/player"
	"github.com/sonroyaalmerol/jukebot/internal/stream"
)

const sendTimeout = 200 * time.Millisecond

// link is the part of *discordgo.VoiceConnection a Conn drives.
type link interface {
	ChangeChannel(channelID string, mute, deaf bool) error
	Speaking(b bool) error
	Disconnect() error
}

type Manager struct {
	s          *discordgo.Session
	log        *slog.Logger
	newEncoder func() (FrameEncoder, error)
}

func NewManager(s *discordgo.Session, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		s:   s,
		log: log,
		newEncoder: func() (FrameEncoder, error) {
			return NewEncoder()
		},
	}
}

func (m *Manager) Join(ctx context.Context, guildID, channelID string) (player.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := m.s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}
	// the sender goroutine writes to OpusSend as soon as Play is called
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	return newConn(vc, vc.OpusSend, channelID, m.newEncoder, m.log.With("guildID", guildID)), nil
}

var _ player.Connection = (*Conn)(nil)

// Conn plays one source at a time on a voice connection.
type Conn struct {
	link       link
	out        chan<- []byte
	newEncoder func() (FrameEncoder, error)
	log        *slog.Logger

	mu        sync.Mutex
	channelID string
	cur       *playback
}

type playback struct {
	stop     chan struct{}
	stopOnce sync.Once
	paused   atomic.Bool
	wake     chan struct{}
	done     chan struct{}
}

func newPlayback() *playback {
	return &playback{
		stop: make(chan struct{}),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (pb *playback) halt() {
	pb.stopOnce.Do(func() { close(pb.stop) })
}

func (pb *playback) stopped() bool {
	select {
	case <-pb.stop:
		return true
	default:
		return false
	}
}

// waitWhilePaused blocks while paused. It returns false if stopped meanwhile.
func (pb *playback) waitWhilePaused() bool {
	for pb.paused.Load() {
		select {
		case <-pb.stop:
			return false
		case <-pb.wake:
		}
	}
	return !pb.stopped()
}

func newConn(l link, out chan<- []byte, channelID string, enc func() (FrameEncoder, error), log *slog.Logger) *Conn {
	return &Conn{link: l, out: out, channelID: channelID, newEncoder: enc, log: log}
}

func (c *Conn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

func (c *Conn) Move(ctx context.Context, channelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.link.ChangeChannel(channelID, false, true); err != nil {
		return fmt.Errorf("change channel: %w", err)
	}
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
	return nil
}

func (c *Conn) SetChannelID(channelID string) {
	c.mu.Lock()
	c.channelID = channelID
	c.mu.Unlock()
}

// Play starts sending src and returns immediately. A source already playing is
// stopped first. after runs on the sender goroutine once src is finished.
func (c *Conn) Play(src stream.Source, after func(error)) error {
	if src == nil {
		return errors.New("nil source")
	}
	pb := newPlayback()
	c.mu.Lock()
	prev := c.cur
	c.cur = pb
	c.mu.Unlock()
	if prev != nil {
		prev.halt()
	}
	go c.sendLoop(pb, src, after)
	return nil
}

func (c *Conn) current() *playback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *Conn) Pause() {
	if pb := c.current(); pb != nil {
		pb.paused.Store(true)
	}
}

func (c *Conn) Resume() {
	if pb := c.current(); pb != nil {
		pb.paused.Store(false)
		select {
		case pb.wake <- struct{}{}:
		default:
		}
	}
}

func (c *Conn) Stop() {
	if pb := c.current(); pb != nil {
		pb.halt()
	}
}

func (c *Conn) IsPlaying() bool {
	pb := c.current()
	return pb != nil && !pb.stopped() && !pb.paused.Load()
}

func (c *Conn) IsPaused() bool {
	pb := c.current()
	return pb != nil && pb.paused.Load()
}

func (c *Conn) Disconnect(ctx context.Context) error {
	c.Stop()
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("voice disconnect panic: %v", r)
			}
		}()
		_ = c.link.Speaking(false)
		errCh <- c.link.Disconnect()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) sendLoop(pb *playback, src stream.Source, after func(error)) {
	err := c.pump(pb, src)
	close(pb.done)

	c.mu.Lock()
	if c.cur == pb {
		c.cur = nil
	}
	c.mu.Unlock()

	if after != nil {
		after(err)
	}
}

func (c *Conn) pump(pb *playback, src stream.Source) error {
	enc, err := c.newEncoder()
	if err != nil {
		return err
	}
	defer enc.Close()

	_ = c.link.Speaking(true)
	defer func() { _ = c.link.Speaking(false) }()

	ticker := time.NewTicker(stream.FrameDuration)
	defer ticker.Stop()

	var pkts [][]byte
	collect := func(pkt []byte) error {
		pkts = append(pkts, slices.Clone(pkt))
		return nil
	}

	for {
		if !pb.waitWhilePaused() {
			return nil
		}
		frame, err := src.ReadFrame()
		if err != nil {
			if pb.stopped() {
				return nil
			}
			if errors.Is(err, io.EOF) {
				pkts = pkts[:0]
				if ferr := enc.Flush(collect); ferr == nil {
					c.sendAll(pb, ticker, pkts)
				}
				return nil
			}
			return err
		}

		pkts = pkts[:0]
		if err := enc.EncodeFrame(frame, collect); err != nil {
			return err
		}
		if !c.sendAll(pb, ticker, pkts) {
			return nil
		}
	}
}

// sendAll paces packets at one per frame. It returns false if stopped.
func (c *Conn) sendAll(pb *playback, ticker *time.Ticker, pkts [][]byte) bool {
	for _, pkt := range pkts {
		select {
		case <-pb.stop:
			return false
		case <-ticker.C:
		}
		select {
		case c.out <- pkt:
		case <-pb.stop:
			return false
		case <-time.After(sendTimeout):
			c.log.Debug("dropped opus packet", "size", len(pkt))
		}
	}
	return true
}
