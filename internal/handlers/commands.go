package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sonroyaalmerol/jukebot/internal/player"
	"github.com/sonroyaalmerol/jukebot/internal/utils"
)

// Message is an inbound chat message, stripped of transport details.
type Message struct {
	ID         string
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Content    string
	FromBot    bool
}

// VoiceLookup returns the voice channel userID sits in, or "".
type VoiceLookup func(guildID, userID string) string

type CommandHandler struct {
	prefix    string
	pm        *player.PlayerManager
	replies   *ReplyRouter
	messenger player.Messenger
	voiceOf   VoiceLookup
	log       *slog.Logger
}

func NewCommandHandler(prefix string, pm *player.PlayerManager, replies *ReplyRouter, messenger player.Messenger, voiceOf VoiceLookup, log *slog.Logger) *CommandHandler {
	if prefix == "" {
		prefix = `\`
	}
	if log == nil {
		log = slog.Default()
	}
	return &CommandHandler{
		prefix:    prefix,
		pm:        pm,
		replies:   replies,
		messenger: messenger,
		voiceOf:   voiceOf,
		log:       log,
	}
}

// Handle dispatches one message. Errors are logged, never returned: a failing
// command must not affect other guilds or the event loop.
func (h *CommandHandler) Handle(ctx context.Context, m Message) {
	if m.FromBot || m.GuildID == "" {
		return
	}
	if h.replies != nil && h.replies.Offer(m) {
		return
	}

	word, args := utils.SplitCommand(m.Content)
	name, ok := strings.CutPrefix(word, h.prefix)
	if !ok || name == "" {
		return
	}

	log := h.log.With("requestID", uuid.NewString(), "guildID", m.GuildID, "userID", m.AuthorID, "command", name)
	req := player.Request{
		GuildID:    m.GuildID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		ChannelID:  m.ChannelID,
		Content:    m.Content,
		Args:       args,
	}

	var err error
	switch name {
	case "hello":
		h.send(log, m.ChannelID, "Hello.")
	case "join":
		req.VoiceChannelID = h.lookupVoice(m)
		err = h.pm.Get(m.GuildID).Join(ctx, req)
	case "leave":
		err = h.pm.Get(m.GuildID).Leave(ctx)
	case "play":
		req.VoiceChannelID = h.lookupVoice(m)
		err = h.pm.Get(m.GuildID).Play(ctx, req)
	case "pause":
		err = h.pm.Get(m.GuildID).Pause(ctx, req)
	case "resume":
		err = h.pm.Get(m.GuildID).Resume(ctx, req)
	case "skip":
		err = h.pm.Get(m.GuildID).Skip(ctx, req)
	case "nowplaying":
		err = h.nowPlaying(ctx, log, m)
	case "list":
		err = h.list(ctx, log, m)
	case "add":
		err = h.pm.Get(m.GuildID).Add(ctx, req)
	case "remove":
		err = h.pm.Get(m.GuildID).Remove(ctx, req)
	default:
		log.Debug("unknown command")
		return
	}

	switch {
	case err == nil:
		log.Debug("command handled")
	case player.IsBenign(err):
		log.Debug("command ignored", "err", err)
	case errors.Is(err, context.Canceled):
		log.Debug("command canceled", "err", err)
	default:
		log.Warn("command failed", "err", err)
	}
}

func (h *CommandHandler) nowPlaying(ctx context.Context, log *slog.Logger, m Message) error {
	summary, ok, err := h.pm.Get(m.GuildID).NowPlaying(ctx)
	if err != nil {
		return err
	}
	if !ok {
		h.send(log, m.ChannelID, "No audio playing.")
		return nil
	}
	h.send(log, m.ChannelID, "Now playing:\n"+summary)
	return nil
}

func (h *CommandHandler) list(ctx context.Context, log *slog.Logger, m Message) error {
	out, err := h.pm.Get(m.GuildID).List(ctx)
	if err != nil {
		return err
	}
	if out == "" {
		h.send(log, m.ChannelID, "Queue is empty.")
		return nil
	}
	h.send(log, m.ChannelID, "Current queue:\n"+strings.TrimRight(out, "\n"))
	return nil
}

func (h *CommandHandler) lookupVoice(m Message) string {
	if h.voiceOf == nil {
		return ""
	}
	return h.voiceOf(m.GuildID, m.AuthorID)
}

func (h *CommandHandler) send(log *slog.Logger, channelID, content string) {
	if err := h.messenger.Send(channelID, content); err != nil {
		log.Warn("reply failed", "channelID", channelID, "err", err)
	}
}
