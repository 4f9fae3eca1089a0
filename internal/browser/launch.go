// Package browser builds browser launch configurations and turns them into
// Rod launchers. A LaunchConfig is an immutable value: it is built once per
// process launch and "modified" only by copying it with overrides applied.
package browser

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Rorqualx/stealthfetch/internal/types"
)

// Preset defaults.
const (
	DefaultWindowWidth  = 1920
	DefaultWindowHeight = 1080

	// DefaultIdleTimeout bounds every blocking browser call when a config does
	// not set its own idle timeout.
	DefaultIdleTimeout = 30 * time.Second

	// defaultPresetIdleTimeout is the idle timeout of DefaultConfig.
	defaultPresetIdleTimeout = 60 * time.Second
)

// StealthUserAgent is the desktop user agent forced by the stealth preset.
const StealthUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.102 Safari/537.36"

// stealthArgs is the fixed, ordered argument list of the stealth preset.
var stealthArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--disable-automation",
	"--no-first-run",
	"--disable-web-security",
	"--disable-dev-shm-usage",
	"--disable-browser-side-navigation",
	"--disable-features=site-per-process,TranslateUI,BlinkGenPropertyTrees",
	"--disable-popup-blocking",
	"--disable-infobars",
	"--disable-notifications",
	"--disable-geolocation",
	"--enable-webgl",
	"--hide-scrollbars",
	"--mute-audio",
	"--no-sandbox",
	"--disable-gpu",
	"--ignore-certificate-errors",
	"--user-agent=" + StealthUserAgent,
}

// WindowSize is a browser window size in pixels.
type WindowSize struct {
	Width  int
	Height int
}

// LaunchConfig describes how a browser process is started.
// The zero value is usable (headful, sandboxed, no extra flags) but presets
// should normally be obtained from StealthConfig or DefaultConfig.
type LaunchConfig struct {
	headless    bool
	sandbox     bool
	gpu         bool
	devtools    bool
	logging     bool
	window      *WindowSize
	args        []string
	proxy       string
	userDataDir string
	idleTimeout time.Duration
	browserPath string
}

// LaunchOption overrides one field of a LaunchConfig.
type LaunchOption func(*LaunchConfig)

// Headless sets whether the browser runs without a window.
func Headless(enabled bool) LaunchOption {
	return func(c *LaunchConfig) { c.headless = enabled }
}

// Sandbox sets whether the Chromium sandbox stays enabled.
func Sandbox(enabled bool) LaunchOption {
	return func(c *LaunchConfig) { c.sandbox = enabled }
}

// GPU sets whether hardware acceleration is allowed.
func GPU(enabled bool) LaunchOption {
	return func(c *LaunchConfig) { c.gpu = enabled }
}

// Devtools sets whether devtools open automatically for each tab.
func Devtools(enabled bool) LaunchOption {
	return func(c *LaunchConfig) { c.devtools = enabled }
}

// Logging sets whether the browser process output is forwarded to the logger.
func Logging(enabled bool) LaunchOption {
	return func(c *LaunchConfig) { c.logging = enabled }
}

// Window sets the window size.
func Window(width, height int) LaunchOption {
	return func(c *LaunchConfig) { c.window = &WindowSize{Width: width, Height: height} }
}

// NoWindow clears the window size so the browser picks its own.
func NoWindow() LaunchOption {
	return func(c *LaunchConfig) { c.window = nil }
}

// Args replaces the command-line argument list.
func Args(args ...string) LaunchOption {
	return func(c *LaunchConfig) { c.args = append([]string(nil), args...) }
}

// AppendArgs adds arguments after the existing ones.
func AppendArgs(args ...string) LaunchOption {
	return func(c *LaunchConfig) { c.args = append(c.args, args...) }
}

// Proxy sets the proxy endpoint, e.g. "http://localhost:8080". Empty disables the proxy.
func Proxy(endpoint string) LaunchOption {
	return func(c *LaunchConfig) { c.proxy = endpoint }
}

// UserDataDir sets a persistent profile directory. Empty means a temporary profile.
func UserDataDir(path string) LaunchOption {
	return func(c *LaunchConfig) { c.userDataDir = path }
}

// IdleTimeout sets the bound applied to every blocking browser call.
func IdleTimeout(d time.Duration) LaunchOption {
	return func(c *LaunchConfig) { c.idleTimeout = d }
}

// BrowserPath sets the browser binary. Empty lets the launcher find or download one.
func BrowserPath(path string) LaunchOption {
	return func(c *LaunchConfig) { c.browserPath = path }
}

// NewLaunchConfig builds a validated LaunchConfig from options applied to the zero value.
func NewLaunchConfig(opts ...LaunchOption) (LaunchConfig, error) {
	return LaunchConfig{}.With(opts...)
}

// With returns a validated copy of c with opts applied. Every field not touched
// by opts is carried over; c itself is never modified.
func (c LaunchConfig) With(opts ...LaunchOption) (LaunchConfig, error) {
	next := c.clone()
	for _, opt := range opts {
		opt(&next)
	}
	if err := next.Validate(); err != nil {
		return LaunchConfig{}, err
	}
	return next, nil
}

// clone copies the value, including the slice and pointer fields, so the copy
// shares no mutable state with c.
func (c LaunchConfig) clone() LaunchConfig {
	next := c
	if c.args != nil {
		next.args = append([]string(nil), c.args...)
	}
	if c.window != nil {
		w := *c.window
		next.window = &w
	}
	return next
}

// Validate checks the configuration and returns ErrInvalidLaunchConfig on failure.
func (c LaunchConfig) Validate() error {
	if c.window != nil && (c.window.Width <= 0 || c.window.Height <= 0) {
		return fmt.Errorf("%w: window size must be positive, got %dx%d",
			types.ErrInvalidLaunchConfig, c.window.Width, c.window.Height)
	}
	if c.idleTimeout < 0 {
		return fmt.Errorf("%w: idle timeout cannot be negative", types.ErrInvalidLaunchConfig)
	}
	for _, arg := range c.args {
		if !strings.HasPrefix(arg, "--") || len(arg) < 3 {
			return fmt.Errorf("%w: argument %q must start with --", types.ErrInvalidLaunchConfig, arg)
		}
	}
	if c.proxy != "" {
		u, err := url.Parse(c.proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: proxy endpoint %q is not a URL", types.ErrInvalidLaunchConfig, c.proxy)
		}
	}
	if strings.Contains(c.browserPath, "..") {
		return fmt.Errorf("%w: browser path contains a path traversal sequence", types.ErrInvalidLaunchConfig)
	}
	return nil
}

// StealthConfig returns the stealth preset: headless, 1920x1080, the fixed
// anti-fingerprinting argument list and a desktop user agent.
func StealthConfig() LaunchConfig {
	return LaunchConfig{
		headless:    true,
		window:      &WindowSize{Width: DefaultWindowWidth, Height: DefaultWindowHeight},
		args:        append([]string(nil), stealthArgs...),
		idleTimeout: DefaultIdleTimeout,
	}
}

// DefaultConfig returns the headful preset: sandboxed, GPU off, 60s idle timeout.
// An error here is a programming error and should be treated as fatal at startup.
func DefaultConfig() (LaunchConfig, error) {
	return NewLaunchConfig(
		Headless(false),
		Sandbox(true),
		Devtools(false),
		GPU(false),
		Logging(false),
		Window(DefaultWindowWidth, DefaultWindowHeight),
		IdleTimeout(defaultPresetIdleTimeout),
	)
}

// WithProxy returns a copy of cfg that routes traffic through http://localhost:{port}.
func WithProxy(cfg LaunchConfig, port int) (LaunchConfig, error) {
	if port < 1 || port > 65535 {
		return LaunchConfig{}, fmt.Errorf("%w: proxy port must be in 1..65535, got %d", types.ErrInvalidLaunchConfig, port)
	}
	return cfg.With(Proxy(fmt.Sprintf("http://localhost:%d", port)))
}

// WithUserDataDir returns a copy of cfg that keeps its browser profile in path.
func WithUserDataDir(cfg LaunchConfig, path string) (LaunchConfig, error) {
	if strings.TrimSpace(path) == "" {
		return LaunchConfig{}, fmt.Errorf("%w: user data dir cannot be empty", types.ErrInvalidLaunchConfig)
	}
	return cfg.With(UserDataDir(path))
}

// Headless reports whether the browser runs without a window.
func (c LaunchConfig) Headless() bool { return c.headless }

// Sandbox reports whether the Chromium sandbox is enabled.
func (c LaunchConfig) Sandbox() bool { return c.sandbox }

// GPU reports whether hardware acceleration is allowed.
func (c LaunchConfig) GPU() bool { return c.gpu }

// Devtools reports whether devtools open for each tab.
func (c LaunchConfig) Devtools() bool { return c.devtools }

// Logging reports whether browser output is forwarded to the logger.
func (c LaunchConfig) Logging() bool { return c.logging }

// WindowSize returns the window size and whether one is set.
func (c LaunchConfig) WindowSize() (WindowSize, bool) {
	if c.window == nil {
		return WindowSize{}, false
	}
	return *c.window, true
}

// Args returns a copy of the argument list.
func (c LaunchConfig) Args() []string {
	return append([]string(nil), c.args...)
}

// Proxy returns the proxy endpoint, or "" when none is set.
func (c LaunchConfig) Proxy() string { return c.proxy }

// UserDataDir returns the persistent profile directory, or "" for a temporary one.
func (c LaunchConfig) UserDataDir() string { return c.userDataDir }

// IdleTimeout returns the configured idle timeout, which may be zero.
func (c LaunchConfig) IdleTimeout() time.Duration { return c.idleTimeout }

// EffectiveIdleTimeout returns the idle timeout, falling back to DefaultIdleTimeout.
func (c LaunchConfig) EffectiveIdleTimeout() time.Duration {
	if c.idleTimeout > 0 {
		return c.idleTimeout
	}
	return DefaultIdleTimeout
}

// BrowserPath returns the browser binary path, or "" for auto-detection.
func (c LaunchConfig) BrowserPath() string { return c.browserPath }
