package player

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sonroyaalmerol/jukebot/internal/media"
	"github.com/sonroyaalmerol/jukebot/internal/utils"
)

// resolve turns the request arguments into a descriptor. Links resolve
// directly; anything else is searched and the requester picks a result.
// It runs on the caller's goroutine so a slow lookup never blocks the player.
func (p *Player) resolve(ctx context.Context, req Request) (*media.Descriptor, error) {
	q := strings.TrimSpace(req.Args)
	if q == "" {
		p.say(req.ChannelID, "Enter a song to the command.")
		return nil, fmt.Errorf("%w: empty query", ErrUserInput)
	}

	if utils.IsURL(q) || strings.HasPrefix(q, "spotify:") {
		d, err := p.deps.Resolver.ResolveOne(ctx, q)
		if err != nil {
			p.say(req.ChannelID, "Could not load that link.")
			return nil, fmt.Errorf("%w: %s: %w", ErrResolution, q, err)
		}
		return d, nil
	}

	p.say(req.ChannelID, fmt.Sprintf("Searching for %q", q))
	cands, err := p.deps.Resolver.ResolveCandidates(ctx, q, p.deps.SearchResults)
	if err != nil || len(cands) == 0 {
		p.say(req.ChannelID, "No results found.")
		if err == nil {
			err = errors.New("empty result set")
		}
		return nil, fmt.Errorf("%w: search %q: %w", ErrResolution, q, err)
	}
	if len(cands) > p.deps.SearchResults {
		cands = cands[:p.deps.SearchResults]
	}
	return p.choose(ctx, req, cands)
}

func (p *Player) choose(ctx context.Context, req Request, cands []*media.Descriptor) (*media.Descriptor, error) {
	if p.deps.Replies == nil {
		return cands[0], nil
	}
	p.say(req.ChannelID, renderChoices(cands))

	wctx, cancel := context.WithTimeout(ctx, p.deps.ChoiceTimeout)
	defer cancel()
	reply, err := p.deps.Replies.WaitForReply(wctx, req.ChannelID, req.AuthorID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			p.say(req.ChannelID, "Respond faster.")
			return cands[0], nil
		}
		return nil, fmt.Errorf("%w: wait for choice: %w", ErrResolution, err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil || n < 1 || n > len(cands) {
		p.say(req.ChannelID, "Invalid input.")
		return nil, fmt.Errorf("%w: choice %q", ErrUserInput, reply)
	}
	return cands[n-1], nil
}

func renderChoices(cands []*media.Descriptor) string {
	var b strings.Builder
	b.WriteString("Choose a result:\n")
	for i, d := range cands {
		fmt.Fprintf(&b, "%d. %s", i+1, utils.EscapeMd(d.Title))
		if d.Duration > 0 {
			fmt.Fprintf(&b, " (%s)", utils.PrettyDuration(d.Duration))
		}
		if i < len(cands)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
