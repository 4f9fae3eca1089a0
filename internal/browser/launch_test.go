package browser

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/stealthfetch/internal/types"
)

func TestStealthConfig(t *testing.T) {
	cfg := StealthConfig()

	if !cfg.Headless() {
		t.Error("Expected stealth preset to be headless")
	}
	size, ok := cfg.WindowSize()
	if !ok || size.Width != 1920 || size.Height != 1080 {
		t.Errorf("Expected 1920x1080 window, got %v (set=%v)", size, ok)
	}

	args := cfg.Args()
	if len(args) != 18 {
		t.Fatalf("Expected 18 arguments, got %d", len(args))
	}
	if args[0] != "--disable-blink-features=AutomationControlled" {
		t.Errorf("Unexpected first argument %q", args[0])
	}
	if !strings.HasPrefix(args[len(args)-1], "--user-agent=Mozilla/5.0") {
		t.Errorf("Expected user agent override last, got %q", args[len(args)-1])
	}
	if cfg.Proxy() != "" || cfg.UserDataDir() != "" {
		t.Error("Stealth preset should not set proxy or user data dir")
	}
	if cfg.EffectiveIdleTimeout() != DefaultIdleTimeout {
		t.Errorf("Expected idle timeout %v, got %v", DefaultIdleTimeout, cfg.EffectiveIdleTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Stealth preset should validate: %v", err)
	}
}

func TestStealthConfigDeterministic(t *testing.T) {
	a, b := StealthConfig(), StealthConfig()
	if !reflect.DeepEqual(a, b) {
		t.Error("Expected StealthConfig to return equal values")
	}

	// Mutating a returned slice must not leak into later presets.
	args := a.Args()
	args[0] = "--tampered"
	if StealthConfig().Args()[0] == "--tampered" {
		t.Error("Args() must return a copy")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig failed: %v", err)
	}

	if cfg.Headless() {
		t.Error("Expected default preset to be headful")
	}
	if !cfg.Sandbox() {
		t.Error("Expected default preset to be sandboxed")
	}
	if cfg.GPU() || cfg.Devtools() || cfg.Logging() {
		t.Error("Expected gpu, devtools and logging to be off")
	}
	if cfg.IdleTimeout() != 60*time.Second {
		t.Errorf("Expected 60s idle timeout, got %v", cfg.IdleTimeout())
	}
	if size, ok := cfg.WindowSize(); !ok || size != (WindowSize{1920, 1080}) {
		t.Errorf("Expected 1920x1080 window, got %v", size)
	}
}

func TestWithProxyPreservesFields(t *testing.T) {
	base, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig failed: %v", err)
	}

	cfg, err := WithProxy(base, 8080)
	if err != nil {
		t.Fatalf("WithProxy failed: %v", err)
	}

	if cfg.Proxy() != "http://localhost:8080" {
		t.Errorf("Expected proxy http://localhost:8080, got %q", cfg.Proxy())
	}
	if size, ok := cfg.WindowSize(); !ok || size != (WindowSize{1920, 1080}) {
		t.Errorf("Window size not preserved: %v", size)
	}
	if cfg.IdleTimeout() != 60*time.Second {
		t.Errorf("Idle timeout not preserved: %v", cfg.IdleTimeout())
	}
	if cfg.Headless() != base.Headless() || cfg.Sandbox() != base.Sandbox() ||
		cfg.GPU() != base.GPU() || cfg.Devtools() != base.Devtools() || cfg.Logging() != base.Logging() {
		t.Error("Boolean fields not preserved")
	}

	// The source value is untouched.
	if base.Proxy() != "" {
		t.Error("WithProxy must not modify its input")
	}
}

func TestWithProxyPreservesArgs(t *testing.T) {
	base := StealthConfig()
	cfg, err := WithProxy(base, 3128)
	if err != nil {
		t.Fatalf("WithProxy failed: %v", err)
	}
	if !reflect.DeepEqual(cfg.Args(), base.Args()) {
		t.Error("Expected argument list to be carried over")
	}
}

func TestWithProxyWithoutWindowSize(t *testing.T) {
	base, err := NewLaunchConfig(Headless(true))
	if err != nil {
		t.Fatalf("NewLaunchConfig failed: %v", err)
	}

	cfg, err := WithProxy(base, 9000)
	if err != nil {
		t.Fatalf("WithProxy failed: %v", err)
	}
	if _, ok := cfg.WindowSize(); ok {
		t.Error("Expected no window size on the copy when the source had none")
	}
}

func TestWithProxyInvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		_, err := WithProxy(StealthConfig(), port)
		if !errors.Is(err, types.ErrInvalidLaunchConfig) {
			t.Errorf("port %d: expected ErrInvalidLaunchConfig, got %v", port, err)
		}
	}
}

func TestWithUserDataDir(t *testing.T) {
	base, err := WithProxy(StealthConfig(), 8080)
	if err != nil {
		t.Fatalf("WithProxy failed: %v", err)
	}

	cfg, err := WithUserDataDir(base, "/tmp/profile")
	if err != nil {
		t.Fatalf("WithUserDataDir failed: %v", err)
	}
	if cfg.UserDataDir() != "/tmp/profile" {
		t.Errorf("Expected user data dir /tmp/profile, got %q", cfg.UserDataDir())
	}
	if cfg.Proxy() != "http://localhost:8080" {
		t.Error("Expected proxy to be preserved")
	}
	if !reflect.DeepEqual(cfg.Args(), base.Args()) {
		t.Error("Expected args to be preserved")
	}
	if cfg.IdleTimeout() != base.IdleTimeout() {
		t.Error("Expected idle timeout to be preserved")
	}

	if _, err := WithUserDataDir(base, "  "); !errors.Is(err, types.ErrInvalidLaunchConfig) {
		t.Errorf("Expected ErrInvalidLaunchConfig for blank path, got %v", err)
	}
}

func TestWithDoesNotShareState(t *testing.T) {
	base := StealthConfig()
	next, err := base.With(AppendArgs("--lang=fr-FR"))
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}
	if len(base.Args()) != 18 {
		t.Errorf("Appending to the copy changed the source: %d args", len(base.Args()))
	}
	if len(next.Args()) != 19 {
		t.Errorf("Expected 19 args on the copy, got %d", len(next.Args()))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []LaunchOption
		wantErr bool
	}{
		{"zero value", nil, false},
		{"negative window", []LaunchOption{Window(-1, 10)}, true},
		{"zero height", []LaunchOption{Window(10, 0)}, true},
		{"negative idle timeout", []LaunchOption{IdleTimeout(-time.Second)}, true},
		{"arg without dashes", []LaunchOption{Args("no-sandbox")}, true},
		{"bare dashes", []LaunchOption{Args("--")}, true},
		{"proxy without scheme", []LaunchOption{Proxy("localhost")}, true},
		{"proxy ok", []LaunchOption{Proxy("socks5://127.0.0.1:1080")}, false},
		{"browser path traversal", []LaunchOption{BrowserPath("/usr/../bin/chrome")}, true},
		{"clear window", []LaunchOption{Window(800, 600), NoWindow()}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLaunchConfig(tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLaunchConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, types.ErrInvalidLaunchConfig) {
				t.Errorf("Expected ErrInvalidLaunchConfig, got %v", err)
			}
		})
	}
}

func TestEffectiveIdleTimeout(t *testing.T) {
	cfg, _ := NewLaunchConfig()
	if cfg.EffectiveIdleTimeout() != DefaultIdleTimeout {
		t.Errorf("Expected fallback %v, got %v", DefaultIdleTimeout, cfg.EffectiveIdleTimeout())
	}
	cfg, _ = cfg.With(IdleTimeout(5 * time.Second))
	if cfg.EffectiveIdleTimeout() != 5*time.Second {
		t.Errorf("Expected 5s, got %v", cfg.EffectiveIdleTimeout())
	}
}
