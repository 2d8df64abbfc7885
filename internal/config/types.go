package config

import (
	"log/slog"
	"time"
)

type Config struct {
	DiscordToken        string        `env:"DISCORD_TOKEN,notEmpty"`
	CommandPrefix       string        `env:"COMMAND_PREFIX" envDefault:"\\"`
	BotStatus           string        `env:"BOT_STATUS" envDefault:"online"` // online/dnd/idle
	BotActivity         string        `env:"BOT_ACTIVITY" envDefault:"music"`
	LogDir              string        `env:"LOG_DIR" envDefault:"logs"`
	LogLevel            slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LogMaxSizeMB        int           `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	FFmpegPath          string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	SearchResults       int           `env:"SEARCH_RESULTS" envDefault:"5"`
	ChoiceTimeout       time.Duration `env:"CHOICE_TIMEOUT" envDefault:"30s"`
	ResolverRate        float64       `env:"RESOLVER_RATE" envDefault:"2"`
	YouTubeCookiesPath  string        `env:"YTDLP_COOKIES"`
	SpotifyClientID     string        `env:"SPOTIFY_CLIENT_ID"`
	SpotifyClientSecret string        `env:"SPOTIFY_CLIENT_SECRET"`
	LeaveIfNoListeners  bool          `env:"LEAVE_IF_NO_LISTENERS" envDefault:"false"`
}

func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}
