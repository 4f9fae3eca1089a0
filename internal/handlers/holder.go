package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/stealthfetch/internal/profile"
	"github.com/Rorqualx/stealthfetch/internal/types"
)

// Session is the part of a browser session the server needs.
type Session interface {
	Fetch(ctx context.Context, url string, headers map[string]string) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// StartFunc starts a session with the given profile as its defaults.
type StartFunc func(ctx context.Context, p profile.Profile) (Session, error)

// SessionHolder serves fetches from one live session and replaces it when
// the stealth profile changes. A running session is never reconfigured in
// place: Rotate starts a new one, waits for in-flight fetches on the old
// one to drain, swaps, then closes the old session.
type SessionHolder struct {
	start StartFunc

	mu      sync.RWMutex // Held for reading by each fetch
	current Session
	profile profile.Profile
	closed  bool

	rotateMu  sync.Mutex
	rotations int
}

// NewSessionHolder starts the first session with p.
func NewSessionHolder(ctx context.Context, start StartFunc, p profile.Profile) (*SessionHolder, error) {
	s, err := start(ctx, p)
	if err != nil {
		return nil, err
	}
	return &SessionHolder{start: start, current: s, profile: p}, nil
}

// Fetch runs one fetch on the current session.
func (h *SessionHolder) Fetch(ctx context.Context, url string, headers map[string]string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return "", types.NewLaunchError(types.StageIdle, url, "cannot open page", types.ErrSessionClosed)
	}
	return h.current.Fetch(ctx, url, headers)
}

// Ping checks the current session.
func (h *SessionHolder) Ping(ctx context.Context) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return types.ErrSessionClosed
	}
	return h.current.Ping(ctx)
}

// Profile returns the defaults of the current session.
func (h *SessionHolder) Profile() profile.Profile {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.profile
}

// Rotations returns how many times the session has been replaced.
func (h *SessionHolder) Rotations() int {
	h.rotateMu.Lock()
	defer h.rotateMu.Unlock()
	return h.rotations
}

// Rotate replaces the current session with one started with p. If the new
// session fails to start the current one keeps serving and the error is returned.
func (h *SessionHolder) Rotate(ctx context.Context, p profile.Profile) error {
	h.rotateMu.Lock()
	defer h.rotateMu.Unlock()

	if h.isClosed() {
		return types.ErrSessionClosed
	}

	start := time.Now()
	next, err := h.start(ctx, p)
	if err != nil {
		return err
	}

	// Lock waits for in-flight fetches on the old session.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.Join(types.ErrSessionClosed, next.Close())
	}
	old := h.current
	h.current = next
	h.profile = p
	h.mu.Unlock()

	h.rotations++
	if err := old.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close previous session")
	}

	log.Info().
		Str("timezone", p.Timezone()).
		Int("rotation", h.rotations).
		Dur("duration", time.Since(start)).
		Msg("Browser session rotated")
	return nil
}

func (h *SessionHolder) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close closes the current session after in-flight fetches finish.
// Safe to call multiple times.
func (h *SessionHolder) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	current := h.current
	h.mu.Unlock()

	return current.Close()
}
