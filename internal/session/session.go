// Package session drives one stealth-configured browser process and fetches
// rendered HTML from it. Each fetch runs in its own short-lived page.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/stealthfetch/internal/browser"
	"github.com/Rorqualx/stealthfetch/internal/metrics"
	"github.com/Rorqualx/stealthfetch/internal/profile"
	"github.com/Rorqualx/stealthfetch/internal/security"
	"github.com/Rorqualx/stealthfetch/internal/types"
)

// pageCloseTimeout bounds closing a page after its fetch, which may run after
// the fetch deadline has already passed.
const pageCloseTimeout = 5 * time.Second

// Session owns one browser process. It is safe for concurrent use: fetches
// run in separate pages and Close waits for in-flight fetches to finish.
type Session struct {
	cfg          browser.LaunchConfig
	profile      profile.Profile
	fetchTimeout time.Duration
	createdAt    time.Time

	launcher *launcher.Launcher
	launched bool // The browser process was started and must be reaped
	browser  *rod.Browser
	primary  *rod.Page

	mu     sync.RWMutex // Held for reading by each fetch, for writing by Close
	closed bool
}

// Option configures a Session at start.
type Option func(*Session)

// WithProfile sets the session defaults. The embedded profile is used otherwise.
func WithProfile(p profile.Profile) Option {
	return func(s *Session) { s.profile = p }
}

// WithFetchTimeout overrides the per-fetch bound. Non-positive values are ignored.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// Start launches a browser with cfg and applies the session profile to its
// primary page. On any failure the browser is torn down and a launch error
// is returned; a partially configured Session is never returned.
func Start(ctx context.Context, cfg browser.LaunchConfig, opts ...Option) (*Session, error) {
	s := &Session{
		cfg:          cfg,
		profile:      profile.Default(),
		fetchTimeout: cfg.EffectiveIdleTimeout(),
	}
	for _, opt := range opts {
		opt(s)
	}

	err := s.start(ctx)
	metrics.RecordSessionStart(err)
	if err != nil {
		s.teardown()
		return nil, err
	}

	s.createdAt = time.Now()
	log.Info().
		Bool("headless", cfg.Headless()).
		Str("timezone", s.profile.Timezone()).
		Int("default_headers", len(s.profile.Headers())).
		Dur("fetch_timeout", s.fetchTimeout).
		Msg("Browser session started")

	return s, nil
}

func (s *Session) start(ctx context.Context) error {
	if err := s.profile.Validate(); err != nil {
		return types.NewLaunchError(types.StageIdle, "", "invalid session profile", err)
	}

	// Check context before starting expensive operation
	if err := ctx.Err(); err != nil {
		return types.NewLaunchError(types.StageIdle, "", "start canceled", err)
	}

	log.Debug().Msg("Launching browser process")

	// Launchers can only launch once, so every session builds its own.
	// The launcher only uses ctx while launching (binary download included).
	s.launcher = browser.NewLauncher(s.cfg).Context(ctx)
	controlURL, err := s.launcher.Launch()
	if err != nil {
		return types.NewLaunchError(types.StageIdle, "", "failed to launch browser", err)
	}
	s.launched = true

	b := rod.New().Context(ctx).ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return types.NewLaunchError(types.StageIdle, "", "failed to connect to browser", err)
	}
	// Later calls must outlive the start context.
	s.browser = b.Context(context.Background())

	setupCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	page, err := s.browser.Context(setupCtx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return types.NewLaunchError(types.StageIdle, "", "failed to open primary page", err)
	}
	s.primary = page.Context(context.Background())

	if err := applyEmulation(page, s.profile); err != nil {
		return types.NewLaunchError(types.StagePageOpened, "", "failed to apply emulation overrides", err)
	}
	if err := applyHeaders(page, s.profile.Headers()); err != nil {
		return types.NewLaunchError(types.StagePageOpened, "", "failed to apply default headers", err)
	}

	log.Debug().Str("control_url", controlURL).Msg("Browser connected and configured")
	return nil
}

// Fetch loads url in a new page and returns the document HTML.
//
// headers, when non-nil, replaces the session default headers for this fetch
// only; names are lower-cased. A nil map applies the session defaults. The
// whole fetch is bounded by the session fetch timeout and by ctx.
//
// Errors unwrap to exactly one of types.ErrLaunch, ErrNetwork, ErrNavigation
// or ErrFetch. There are no retries.
func (s *Session) Fetch(ctx context.Context, url string, headers map[string]string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	html, err := s.fetch(ctx, url, headers)

	outcome, stage := metrics.OutcomeOK, ""
	if err != nil {
		outcome = string(types.KindOf(err))
		var fe *types.FetchError
		if errors.As(err, &fe) {
			stage = string(fe.Stage)
		}
		log.Warn().
			Err(err).
			Str("url", security.RedactURL(url)).
			Str("kind", outcome).
			Str("stage", stage).
			Dur("duration", time.Since(start)).
			Msg("Fetch failed")
	} else {
		log.Debug().
			Str("url", security.RedactURL(url)).
			Int("html_length", len(html)).
			Dur("duration", time.Since(start)).
			Msg("Fetch completed")
	}
	metrics.RecordFetch(outcome, stage, time.Since(start))

	return html, err
}

func (s *Session) fetch(ctx context.Context, url string, headers map[string]string) (string, error) {
	if s.closed || s.browser == nil {
		return "", types.NewLaunchError(types.StageIdle, url, "cannot open page", types.ErrSessionClosed)
	}
	// rod navigates an empty URL to about:blank, which would read as a success.
	if err := checkTarget(url); err != nil {
		return "", types.NewNavigationError(types.StageNavigating, url, "invalid URL", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	page, err := stealth.Page(s.browser.Context(fetchCtx))
	if err != nil {
		return "", types.NewLaunchError(types.StageIdle, url, "failed to open page", err)
	}
	defer closePage(page)

	if err := applyEmulation(page, s.profile); err != nil {
		return "", types.NewLaunchError(types.StagePageOpened, url, "failed to apply emulation overrides", err)
	}

	if err := applyHeaders(page, s.headersFor(headers)); err != nil {
		return "", types.NewNetworkError(types.StagePageOpened, url, "failed to apply headers", err)
	}

	if err := page.Navigate(url); err != nil {
		return "", types.NewNavigationError(types.StageNavigating, url, "failed to navigate", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", types.NewNavigationError(types.StageNavigating, url, "failed waiting for page load", err)
	}

	html, err := page.HTML()
	if err != nil {
		return "", types.NewFetchError(types.StageNavigated, url, "failed to read page content", err)
	}
	return html, nil
}

// checkTarget rejects URLs the browser cannot navigate to as given.
func checkTarget(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme == "" {
		return fmt.Errorf("missing scheme in %q", rawURL)
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return fmt.Errorf("missing host in %q", rawURL)
	}
	return nil
}

// headersFor returns the headers for one fetch: the override when non-nil,
// otherwise the session defaults.
func (s *Session) headersFor(override map[string]string) map[string]string {
	if override == nil {
		return s.profile.Headers()
	}
	headers := make(map[string]string, len(override))
	for name, value := range override {
		headers[strings.ToLower(strings.TrimSpace(name))] = value
	}
	return headers
}

func closePage(page *rod.Page) {
	ctx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
	defer cancel()
	if err := page.Context(ctx).Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close page")
	}
}

// Close shuts the browser down and waits for in-flight fetches first.
// A temporary profile directory is removed; a configured user data dir is kept.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.teardown()
	metrics.RecordSessionClose()

	log.Info().
		Dur("lifetime", time.Since(s.createdAt)).
		Msg("Browser session closed")

	return err
}

// teardown releases whatever start managed to acquire.
func (s *Session) teardown() error {
	var closeErr error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}

	if !s.launched {
		return closeErr
	}
	if closeErr != nil || s.browser == nil || s.cfg.UserDataDir() != "" {
		s.launcher.Kill()
	}
	if s.cfg.UserDataDir() == "" {
		// Waits for the process to exit, then removes the temporary profile.
		s.launcher.Cleanup()
	}
	return closeErr
}

// Profile returns the session defaults.
func (s *Session) Profile() profile.Profile { return s.profile }

// Config returns the launch configuration the session was started with.
func (s *Session) Config() browser.LaunchConfig { return s.cfg }

// FetchTimeout returns the per-fetch bound.
func (s *Session) FetchTimeout() time.Duration { return s.fetchTimeout }

// CreatedAt returns when the session finished starting.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// DefaultHeaders returns a copy of the headers applied when a fetch has no override.
func (s *Session) DefaultHeaders() map[string]string {
	return s.profile.Headers()
}

// Ping checks that the browser still answers on the primary page.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.primary == nil {
		return types.ErrSessionClosed
	}
	if _, err := s.primary.Context(ctx).Info(); err != nil {
		return fmt.Errorf("browser not responding: %w", err)
	}
	return nil
}
