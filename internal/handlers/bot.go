package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sonroyaalmerol/jukebot/internal/config"
	"github.com/sonroyaalmerol/jukebot/internal/player"
	"github.com/sonroyaalmerol/jukebot/internal/voice"
)

const shutdownTimeout = 10 * time.Second

// Loggers are the named loggers the bot hands to its parts.
type Loggers struct {
	Discord *slog.Logger
	Bot     *slog.Logger
	Player  *slog.Logger
	Queue   *slog.Logger
	Voice   *slog.Logger
}

type Bot struct {
	cfg      *config.Config
	logs     Loggers
	resolver player.Resolver
	streams  player.StreamFactory
	replies  *ReplyRouter
}

func NewBot(cfg *config.Config, logs Loggers, resolver player.Resolver, streams player.StreamFactory) *Bot {
	for _, l := range []**slog.Logger{&logs.Discord, &logs.Bot, &logs.Player, &logs.Queue, &logs.Voice} {
		if *l == nil {
			*l = slog.Default()
		}
	}
	return &Bot{
		cfg:      cfg,
		logs:     logs,
		resolver: resolver,
		streams:  streams,
		replies:  NewReplyRouter(),
	}
}

// Run connects to Discord and serves commands until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	messenger := &channelMessenger{s: dg}
	pm := player.NewPlayerManager(player.Deps{
		Voice:         voice.NewManager(dg, b.logs.Voice),
		Messenger:     messenger,
		Resolver:      b.resolver,
		Replies:       b.replies,
		Streams:       b.streams,
		Logger:        b.logs.Player,
		QueueLogger:   b.logs.Queue,
		SearchResults: b.cfg.SearchResults,
		ChoiceTimeout: b.cfg.ChoiceTimeout,
	})
	cmd := NewCommandHandler(b.cfg.CommandPrefix, pm, b.replies, messenger, stateVoiceLookup(dg), b.logs.Bot)

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logs.Discord.Info("connected", "user", r.User.Username, "guilds", len(r.Guilds))
		if err := s.UpdateStatusComplex(discordgo.UpdateStatusData{
			Status: b.cfg.BotStatus,
			Activities: []*discordgo.Activity{{
				Name: b.cfg.BotActivity,
				Type: discordgo.ActivityTypeListening,
			}},
		}); err != nil {
			b.logs.Discord.Warn("update status", "err", err)
		}
	})

	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		cmd.Handle(ctx, Message{
			ID:         m.ID,
			GuildID:    m.GuildID,
			ChannelID:  m.ChannelID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			Content:    m.Content,
			FromBot:    m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID),
		})
	})

	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		b.onVoiceStateUpdate(ctx, s, pm, vs)
	})

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer dg.Close()

	<-ctx.Done()
	b.logs.Bot.Info("shutting down", "players", pm.Len())

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return pm.Close(sctx)
}

func (b *Bot) onVoiceStateUpdate(ctx context.Context, s *discordgo.Session, pm *player.PlayerManager, vs *discordgo.VoiceStateUpdate) {
	if vs.VoiceState == nil {
		return
	}
	p := pm.Peek(vs.GuildID)
	if p == nil {
		return
	}

	if s.State.User != nil && vs.UserID == s.State.User.ID {
		if vs.ChannelID == "" {
			if err := p.HandleVoiceDisconnect(ctx); err != nil {
				b.logs.Discord.Warn("handle voice disconnect", "guildID", vs.GuildID, "err", err)
			}
			return
		}
		if err := p.HandleVoiceMoved(ctx, vs.ChannelID); err != nil {
			b.logs.Discord.Warn("handle voice move", "guildID", vs.GuildID, "err", err)
			return
		}
	}

	if !b.cfg.LeaveIfNoListeners {
		return
	}
	chID, err := p.ChannelID(ctx)
	if err != nil || chID == "" {
		return
	}
	if getNonBotSize(s, vs.GuildID, chID) == 0 {
		b.logs.Bot.Info("no listeners left, leaving", "guildID", vs.GuildID, "channelID", chID)
		if err := p.Leave(ctx); err != nil {
			b.logs.Bot.Warn("leave", "guildID", vs.GuildID, "err", err)
		}
	}
}

type channelMessenger struct {
	s *discordgo.Session
}

func (m *channelMessenger) Send(channelID, content string) error {
	_, err := m.s.ChannelMessageSend(channelID, content)
	return err
}

func stateVoiceLookup(s *discordgo.Session) VoiceLookup {
	return func(guildID, userID string) string {
		vs, err := s.State.VoiceState(guildID, userID)
		if err != nil || vs == nil {
			return ""
		}
		return vs.ChannelID
	}
}

func getNonBotSize(s *discordgo.Session, guildID, channelID string) int {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return 0
	}
	n := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if vs.Member != nil && vs.Member.User != nil {
			if !vs.Member.User.Bot {
				n++
			}
			continue
		}
		m, _ := s.State.Member(guildID, vs.UserID)
		if m != nil && m.User != nil && !m.User.Bot {
			n++
		}
	}
	return n
}
