package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sonroyaalmerol/jukebot/internal/config"
	"github.com/sonroyaalmerol/jukebot/internal/handlers"
	"github.com/sonroyaalmerol/jukebot/internal/logging"
	"github.com/sonroyaalmerol/jukebot/internal/resolver"
	"github.com/sonroyaalmerol/jukebot/internal/spotify"
	"github.com/sonroyaalmerol/jukebot/internal/stream"
	"github.com/sonroyaalmerol/jukebot/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logs, err := logging.New(logging.Options{
		Dir:       cfg.LogDir,
		Level:     cfg.LogLevel,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer logs.Close()

	botLog := logs.Named("bot")
	slog.SetDefault(botLog)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if ver, err := utils.CheckBinary(ctx, cfg.FFmpegPath); err != nil {
		botLog.Error("ffmpeg not usable", "path", cfg.FFmpegPath, "err", err)
		os.Exit(1)
	} else {
		botLog.Info("found ffmpeg", "version", ver)
	}

	var sp *spotify.Client
	if cfg.SpotifyEnabled() {
		sp, err = spotify.NewClientCredentials(cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		if err != nil {
			botLog.Warn("spotify disabled", "err", err)
			sp = nil
		}
	}

	res := resolver.New(resolver.Options{
		Logger:      logs.Named("ytdl"),
		RatePerSec:  cfg.ResolverRate,
		CookiesPath: cfg.YouTubeCookiesPath,
		Spotify:     sp,
	})
	if err := res.Install(ctx); err != nil {
		botLog.Error("yt-dlp not usable", "err", err)
		os.Exit(1)
	}

	ff := stream.NewFFmpeg(cfg.FFmpegPath, res, logs.Writer("ffmpeg"))

	bot := handlers.NewBot(cfg, handlers.Loggers{
		Discord: logs.Named("discord"),
		Bot:     botLog,
		Player:  logs.Named("player"),
		Queue:   logs.Named("queue"),
		Voice:   logs.Named("voice"),
	}, res, ff)

	botLog.Info("starting", "prefix", cfg.CommandPrefix)
	if err := bot.Run(ctx); err != nil {
		botLog.Error("bot stopped", "err", err)
		os.Exit(1)
	}
	botLog.Info("bye")
}
