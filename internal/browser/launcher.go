package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/stealthfetch/internal/security"
)

// NewLauncher translates cfg into a Rod launcher.
// Launchers can only launch once, so callers need a fresh one per process.
//
// Order matters: the launcher defaults are adjusted first, then the typed
// fields, and the raw argument list is applied last so an explicit argument
// always wins over a derived flag.
func NewLauncher(cfg LaunchConfig) *launcher.Launcher {
	l := launcher.New()

	if cfg.BrowserPath() != "" {
		l = l.Bin(cfg.BrowserPath())
	}

	// Rod enables headless by default; headful must be requested explicitly.
	if cfg.Headless() {
		l = l.Set("headless", "new")
	} else {
		l = l.Headless(false)
	}

	// Rod sets this by default and it is the loudest automation signal.
	l = l.Delete("enable-automation")

	l = l.NoSandbox(!cfg.Sandbox())

	if !cfg.GPU() {
		l = l.Set("disable-gpu")
	}

	if cfg.Devtools() {
		l = l.Devtools(true)
	}

	if size, ok := cfg.WindowSize(); ok {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", size.Width, size.Height))
	}

	if cfg.Proxy() != "" {
		l = l.Proxy(cfg.Proxy())
		// WebRTC would otherwise reveal the real address behind the proxy.
		l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")
		log.Debug().Str("proxy", security.RedactProxyURL(cfg.Proxy())).Msg("Browser proxy configured")
	}

	if cfg.UserDataDir() != "" {
		l = l.UserDataDir(cfg.UserDataDir())
	}

	if cfg.Logging() {
		l = l.Set("enable-logging", "stderr").Set("v", "1")
		l = l.Logger(log.With().Str("component", "chromium").Logger())
	}

	for _, arg := range cfg.Args() {
		name, values := splitArg(arg)
		if name == "" {
			continue
		}
		l = l.Set(name, values...)
	}

	return l
}

// splitArg turns "--name=value" into the launcher flag and its value.
// Values are kept whole: a comma-separated list stays one value.
func splitArg(arg string) (flags.Flag, []string) {
	trimmed := strings.TrimPrefix(arg, "--")
	if trimmed == "" {
		return "", nil
	}
	name, value, found := strings.Cut(trimmed, "=")
	if !found {
		return flags.Flag(name), nil
	}
	return flags.Flag(name), []string{value}
}
