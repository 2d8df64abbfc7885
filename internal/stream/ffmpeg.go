package stream

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/sonroyaalmerol/jukebot/internal/utils"
)

// Locator maps a source URI (usually a page URL) to something ffmpeg can read.
type Locator interface {
	StreamURL(ctx context.Context, uri string) (string, error)
}

// FFmpeg opens sources by spawning ffmpeg and reading raw PCM from its stdout.
type FFmpeg struct {
	Path    string
	Locator Locator
	Stderr  io.Writer
	Headers map[string]string
}

func NewFFmpeg(path string, loc Locator, stderr io.Writer) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path, Locator: loc, Stderr: stderr}
}

// NewStream binds a fresh Stream to uri. Nothing is spawned until the first read.
func (f *FFmpeg) NewStream(uri string, offset time.Duration) *Stream {
	return New(f, uri, offset)
}

func (f *FFmpeg) Open(ctx context.Context, uri string, offset time.Duration) (io.ReadCloser, error) {
	input := uri
	if f.Locator != nil {
		u, err := f.Locator.StreamURL(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("locate stream: %w", err)
		}
		input = u
	}

	ctx2, cancel := context.WithCancel(ctx)
	cmd := utils.ExecWith(ctx2, f.Path, f.args(input, offset)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if f.Stderr != nil {
		cmd.Stderr = f.Stderr
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}
	return &pcmProcess{cmd: cmd, stdout: stdout, cancel: cancel}, nil
}

func (f *FFmpeg) args(input string, offset time.Duration) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
	}
	if utils.IsURL(input) {
		args = append(args, "-headers", utils.BuildFFmpegHeaders(f.Headers))
	}
	if offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64))
	}
	args = append(args, "-i", input)
	args = append(args,
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	return args
}

type pcmProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
}

func (p *pcmProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *pcmProcess) Close() error {
	p.cancel()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return nil
}
