package ota

import (
	"context"
	"sync"
)

// Gate admits one session at a time and lets other components wait for the
// pipeline to become idle.
type Gate struct {
	mu      sync.Mutex
	current *Session
	idle    chan struct{}
	sealed  bool
}

// NewGate creates an idle gate.
func NewGate() *Gate {
	idle := make(chan struct{})
	close(idle)
	return &Gate{idle: idle}
}

func (g *Gate) acquire(s Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil || g.sealed {
		return false
	}
	g.current = &s
	g.idle = make(chan struct{})
	return true
}

func (g *Gate) update(s Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil && g.current.ID == s.ID {
		*g.current = s
	}
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = nil
	close(g.idle)
}

// Active reports whether a session is running.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil
}

// Seal refuses every later session, provided none is running now. It
// reports whether the gate was sealed. A sealed gate stays sealed.
func (g *Gate) Seal() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		return false
	}
	g.sealed = true
	return true
}

// Sealed reports whether Seal succeeded.
func (g *Gate) Sealed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sealed
}

// Current returns a snapshot of the running session.
func (g *Gate) Current() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return Session{}, false
	}
	return *g.current, true
}

// WaitIdle blocks until no session is running or ctx is done.
func (g *Gate) WaitIdle(ctx context.Context) error {
	for {
		g.mu.Lock()
		idle := g.idle
		busy := g.current != nil
		g.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
