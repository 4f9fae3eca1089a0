package handlers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rorqualx/stealthfetch/internal/profile"
	"github.com/Rorqualx/stealthfetch/internal/types"
)

// fakeSession tags its results with the timezone it was started with.
type fakeSession struct {
	tz       string
	closed   atomic.Bool
	inFlight atomic.Int32
	release  chan struct{}
}

func (f *fakeSession) Fetch(ctx context.Context, url string, headers map[string]string) (string, error) {
	if f.closed.Load() {
		return "", types.NewLaunchError(types.StageIdle, url, "cannot open page", types.ErrSessionClosed)
	}
	f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	if f.release != nil {
		<-f.release
	}
	return f.tz, nil
}

func (f *fakeSession) Ping(ctx context.Context) error { return nil }

func (f *fakeSession) Close() error {
	if f.inFlight.Load() != 0 {
		return errors.New("closed with fetches in flight")
	}
	f.closed.Store(true)
	return nil
}

type fakeStarter struct {
	mu       sync.Mutex
	sessions []*fakeSession
	fail     bool
	release  chan struct{}
}

func (s *fakeStarter) start(ctx context.Context, p profile.Profile) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, types.NewLaunchError(types.StageIdle, "", "failed to launch browser", errors.New("no chrome"))
	}
	fs := &fakeSession{tz: p.Timezone(), release: s.release}
	s.sessions = append(s.sessions, fs)
	return fs, nil
}

func mustProfile(t *testing.T, tz string) profile.Profile {
	t.Helper()
	p, err := profile.New(map[string]string{"accept": "*/*"}, profile.Geolocation{}, tz)
	if err != nil {
		t.Fatalf("profile.New failed: %v", err)
	}
	return p
}

func TestSessionHolderRotate(t *testing.T) {
	starter := &fakeStarter{}
	h, err := NewSessionHolder(context.Background(), starter.start, mustProfile(t, "UTC"))
	if err != nil {
		t.Fatalf("NewSessionHolder failed: %v", err)
	}
	defer h.Close()

	if got, _ := h.Fetch(context.Background(), "https://example.com", nil); got != "UTC" {
		t.Errorf("Expected first session, got %q", got)
	}

	if err := h.Rotate(context.Background(), mustProfile(t, "Europe/Paris")); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if got, _ := h.Fetch(context.Background(), "https://example.com", nil); got != "Europe/Paris" {
		t.Errorf("Expected rotated session, got %q", got)
	}
	if !starter.sessions[0].closed.Load() {
		t.Error("Expected previous session to be closed")
	}
	if h.Rotations() != 1 {
		t.Errorf("Expected 1 rotation, got %d", h.Rotations())
	}
	if h.Profile().Timezone() != "Europe/Paris" {
		t.Errorf("Expected holder profile to follow rotation, got %q", h.Profile().Timezone())
	}
}

func TestSessionHolderRotateFailureKeepsCurrent(t *testing.T) {
	starter := &fakeStarter{}
	h, err := NewSessionHolder(context.Background(), starter.start, mustProfile(t, "UTC"))
	if err != nil {
		t.Fatalf("NewSessionHolder failed: %v", err)
	}
	defer h.Close()

	starter.fail = true
	if err := h.Rotate(context.Background(), mustProfile(t, "Asia/Tokyo")); !errors.Is(err, types.ErrLaunch) {
		t.Errorf("Expected ErrLaunch, got %v", err)
	}
	if got, err := h.Fetch(context.Background(), "https://example.com", nil); err != nil || got != "UTC" {
		t.Errorf("Expected current session to keep serving, got %q, %v", got, err)
	}
}

func TestSessionHolderRotateWaitsForInFlight(t *testing.T) {
	release := make(chan struct{})
	starter := &fakeStarter{release: release}
	h, err := NewSessionHolder(context.Background(), starter.start, mustProfile(t, "UTC"))
	if err != nil {
		t.Fatalf("NewSessionHolder failed: %v", err)
	}

	fetchDone := make(chan error, 1)
	go func() {
		_, err := h.Fetch(context.Background(), "https://example.com", nil)
		fetchDone <- err
	}()

	// Wait for the fetch to be in flight.
	deadline := time.Now().Add(2 * time.Second)
	for starter.sessions[0].inFlight.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rotateDone := make(chan error, 1)
	go func() {
		rotateDone <- h.Rotate(context.Background(), mustProfile(t, "Europe/Berlin"))
	}()

	select {
	case <-rotateDone:
		t.Fatal("Rotate finished while a fetch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	if err := <-fetchDone; err != nil {
		t.Errorf("In-flight fetch failed: %v", err)
	}
	if err := <-rotateDone; err != nil {
		t.Errorf("Rotate failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestSessionHolderClose(t *testing.T) {
	starter := &fakeStarter{}
	h, err := NewSessionHolder(context.Background(), starter.start, mustProfile(t, "UTC"))
	if err != nil {
		t.Fatalf("NewSessionHolder failed: %v", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	if _, err := h.Fetch(context.Background(), "https://example.com", nil); !errors.Is(err, types.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	if err := h.Ping(context.Background()); !errors.Is(err, types.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed from Ping, got %v", err)
	}
	if err := h.Rotate(context.Background(), mustProfile(t, "UTC")); !errors.Is(err, types.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed from Rotate, got %v", err)
	}
}

func TestNewSessionHolderStartFailure(t *testing.T) {
	starter := &fakeStarter{fail: true}
	if _, err := NewSessionHolder(context.Background(), starter.start, mustProfile(t, "UTC")); !errors.Is(err, types.ErrLaunch) {
		t.Errorf("Expected ErrLaunch, got %v", err)
	}
}
