package player

import (
	"context"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

type PlayerManager struct {
	mu      sync.Mutex
	Players map[string]*Player
	deps    Deps
}

func NewPlayerManager(deps Deps) *PlayerManager {
	return &PlayerManager{Players: make(map[string]*Player), deps: deps}
}

// Get returns the guild's player, creating it on first use. Concurrent callers
// for the same guild always receive the same instance.
func (pm *PlayerManager) Get(guildID string) *Player {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.Players[guildID]; ok {
		return p
	}
	p := NewPlayer(guildID, pm.deps)
	pm.Players[guildID] = p
	return p
}

func (pm *PlayerManager) Peek(guildID string) *Player {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.Players[guildID]
}

func (pm *PlayerManager) Len() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.Players)
}

// Close shuts every player down in parallel and empties the registry. One
// player failing does not cut the others short; the first error is returned.
func (pm *PlayerManager) Close(ctx context.Context) error {
	pm.mu.Lock()
	players := slices.Collect(maps.Values(pm.Players))
	pm.Players = make(map[string]*Player)
	pm.mu.Unlock()

	var g errgroup.Group
	for _, p := range players {
		g.Go(func() error { return p.Shutdown(ctx) })
	}
	return g.Wait()
}
