// Package resolver turns user input into media descriptors and direct stream URLs
// using yt-dlp, the YouTube search endpoint and, for track links, Spotify.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"golang.org/x/time/rate"

	"github.com/sonroyaalmerol/jukebot/internal/media"
	"github.com/sonroyaalmerol/jukebot/internal/spotify"
	"github.com/sonroyaalmerol/jukebot/internal/utils"
)

var ErrNotFound = errors.New("no results")

const streamURLTTL = 5 * time.Hour

type Options struct {
	Logger      *slog.Logger
	RatePerSec  float64
	CookiesPath string
	Spotify     *spotify.Client
}

type Resolver struct {
	log     *slog.Logger
	limiter *rate.Limiter
	cookies string
	spotify *spotify.Client
	search  func(ctx context.Context, query string, limit int) ([]*media.Descriptor, error)
	urls    *Cache[string]

	installOnce sync.Once
	installErr  error
}

func New(opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Resolver{
		log:     opts.Logger,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
		cookies: opts.CookiesPath,
		spotify: opts.Spotify,
		search:  nativeSearch(),
		urls:    NewCache[string](streamURLTTL),
	}
}

// Install makes sure a yt-dlp binary is available. It runs once per Resolver.
func (r *Resolver) Install(ctx context.Context) error {
	r.installOnce.Do(func() {
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			r.installErr = fmt.Errorf("install yt-dlp: %w", err)
		}
	})
	return r.installErr
}

func (r *Resolver) command() *ytdlp.Command {
	cmd := ytdlp.New().
		NoCheckCertificates().
		NoWarnings().
		IgnoreConfig()
	if r.cookies != "" {
		cmd = cmd.Cookies(r.cookies)
	}
	return cmd
}

func (r *Resolver) run(ctx context.Context, cmd *ytdlp.Command, args ...string) (*ytdlp.Result, error) {
	if err := r.Install(ctx); err != nil {
		return nil, err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := cmd.Run(ctx, args...)
	r.log.Debug("yt-dlp", "args", args, "took", time.Since(start), "err", err)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}
	return res, nil
}

// ResolveOne resolves a direct link to a single descriptor.
func (r *Resolver) ResolveOne(ctx context.Context, uri string) (*media.Descriptor, error) {
	if spotify.IsLink(uri) {
		return r.resolveSpotify(ctx, uri)
	}
	res, err := r.run(ctx, r.command().NoPlaylist().DumpJSON(), uri)
	if err != nil {
		return nil, err
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, ErrNotFound
	}
	d := descriptorFromInfo(infos[0], uri)
	r.log.Info("resolved", "uri", uri, "title", d.Title, "duration", d.Duration)
	return d, nil
}

func (r *Resolver) resolveSpotify(ctx context.Context, uri string) (*media.Descriptor, error) {
	if r.spotify == nil {
		return nil, errors.New("spotify links need SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET")
	}
	t, err := r.spotify.TrackFromLink(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("spotify: %w", err)
	}
	cands, err := r.ResolveCandidates(ctx, t.Query(), 1)
	if err != nil {
		return nil, err
	}
	r.log.Info("resolved spotify track", "uri", uri, "query", t.Query(), "title", cands[0].Title)
	return cands[0], nil
}

// ResolveCandidates searches YouTube and returns up to limit results, most relevant first.
func (r *Resolver) ResolveCandidates(ctx context.Context, query string, limit int) ([]*media.Descriptor, error) {
	if limit < 1 {
		limit = 1
	}
	out, err := r.search(ctx, query, limit)
	if err != nil || len(out) == 0 {
		r.log.Debug("native search failed, falling back to yt-dlp", "query", query, "err", err)
		out, err = r.searchYtdlp(ctx, query, limit)
		if err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// nativeSearch queries YouTube's search endpoint directly, which avoids a yt-dlp
// process per search.
func nativeSearch() func(context.Context, string, int) ([]*media.Descriptor, error) {
	c := ytsearch.NewClient(nil)
	return func(ctx context.Context, query string, limit int) ([]*media.Descriptor, error) {
		res, err := c.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		out := make([]*media.Descriptor, 0, limit)
		for _, v := range res.Results {
			if len(out) >= limit {
				break
			}
			if v.VideoID == "" {
				continue
			}
			out = append(out, &media.Descriptor{
				Title:     v.Title,
				SourceURI: watchURL(v.VideoID),
				Duration:  time.Duration(utils.ParseDurationString(v.Duration)) * time.Second,
				Uploader:  v.Channel,
			})
		}
		return out, nil
	}
}

func (r *Resolver) searchYtdlp(ctx context.Context, query string, limit int) ([]*media.Descriptor, error) {
	cmd := r.command().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit))
	res, err := r.run(ctx, cmd, fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, err
	}
	return parseFlatSearch(res.Stdout, limit), nil
}

// StreamURL returns a URL ffmpeg can read directly. Results are cached since
// signed media URLs stay valid for several hours.
func (r *Resolver) StreamURL(ctx context.Context, uri string) (string, error) {
	if u, ok := r.urls.Get(uri); ok {
		return u, nil
	}
	res, err := r.run(ctx, r.command().Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio").NoPlaylist().DumpJSON(), uri)
	if err != nil {
		return "", err
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return "", fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return "", ErrNotFound
	}
	u := audioURL(infos[0])
	if u == "" {
		return "", errors.New("no usable media URL")
	}
	r.urls.Set(uri, u)
	return u, nil
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func descriptorFromInfo(ext *ytdlp.ExtractedInfo, fallbackURI string) *media.Descriptor {
	d := &media.Descriptor{
		Title:     deref(ext.Title),
		SourceURI: deref(ext.WebpageURL),
		Uploader:  deref(ext.Uploader),
	}
	if ext.Duration != nil && *ext.Duration > 0 {
		d.Duration = time.Duration(*ext.Duration * float64(time.Second))
	}
	if d.SourceURI == "" {
		d.SourceURI = fallbackURI
	}
	if d.Title == "" {
		d.Title = d.SourceURI
	}
	return d
}

// audioURL returns the selected format's direct URL. With a single-format
// selector yt-dlp reports it at the top level.
func audioURL(ext *ytdlp.ExtractedInfo) string {
	if u := deref(ext.URL); strings.HasPrefix(u, "http") {
		return u
	}
	return ""
}

// parseFlatSearch reads "url\ttitle\tuploader\tduration" lines.
func parseFlatSearch(stdout string, limit int) []*media.Descriptor {
	var out []*media.Descriptor
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if len(out) >= limit {
			break
		}
		ps := strings.Split(line, "\t")
		if len(ps) < 4 || !utils.IsURL(ps[0]) {
			continue
		}
		var dur time.Duration
		if secs, err := strconv.ParseFloat(ps[3], 64); err == nil && secs > 0 {
			dur = time.Duration(secs * float64(time.Second))
		}
		uploader := ps[2]
		if uploader == "NA" {
			uploader = ""
		}
		out = append(out, &media.Descriptor{
			Title:     ps[1],
			SourceURI: ps[0],
			Duration:  dur,
			Uploader:  uploader,
		})
	}
	return out
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
