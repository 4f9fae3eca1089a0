package profile

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/stealthfetch/internal/metrics"
)

// debounceDelay coalesces the burst of events editors emit for one save.
const debounceDelay = 100 * time.Millisecond

// ReloadStats contains statistics about profile reloads.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// Manager holds the current Profile and optionally reloads it when the
// override file changes. Reads are lock-free.
//
// A reload never touches a running session: subscribers receive the new
// Profile and decide how to apply it (typically by starting a new session).
type Manager struct {
	path        string
	current     atomic.Pointer[Profile]
	watcher     *fsnotify.Watcher
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex // Protects reloads, stats and subscribers
	stats       ReloadStats
	subscribers []func(Profile)
	closed      bool
}

// NewManager creates a Manager. With an empty path only the embedded profile
// is used. A configured file that cannot be loaded is a startup error; later
// reload failures keep the previous profile.
func NewManager(path string, hotReload bool) (*Manager, error) {
	m := &Manager{
		path:   path,
		stopCh: make(chan struct{}),
	}

	p := Default()
	m.current.Store(&p)

	if path == "" {
		return m, nil
	}

	loaded, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", path, err)
	}
	m.current.Store(&loaded)
	log.Info().Str("path", path).Msg("Loaded stealth profile file")

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().
				Err(err).
				Str("path", path).
				Msg("Failed to start file watcher, hot-reload disabled")
		} else {
			log.Info().Str("path", path).Msg("Hot-reload enabled for stealth profile")
		}
	}

	return m, nil
}

// Get returns the current Profile.
func (m *Manager) Get() Profile {
	return *m.current.Load()
}

// Subscribe registers fn to be called with each new Profile after a
// successful reload that changed it. Callbacks run sequentially on the
// reloading goroutine.
func (m *Manager) Subscribe(fn func(Profile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Reload re-reads the profile file. On failure the previous profile stays in use.
func (m *Manager) Reload() error {
	m.mu.Lock()

	if m.path == "" {
		m.mu.Unlock()
		return fmt.Errorf("no profile path configured")
	}

	next, err := LoadFile(m.path)
	metrics.RecordProfileReload(err)
	if err != nil {
		m.stats.LastError = err
		m.mu.Unlock()
		return err
	}

	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil

	if next.Equal(m.Get()) {
		m.mu.Unlock()
		log.Debug().Str("path", m.path).Msg("Stealth profile unchanged")
		return nil
	}

	m.current.Store(&next)
	subscribers := slices.Clone(m.subscribers)
	count := m.stats.ReloadCount
	m.mu.Unlock()

	log.Info().
		Int64("reload_count", count).
		Str("timezone", next.Timezone()).
		Int("headers", len(next.headers)).
		Msg("Stealth profile hot-reloaded")

	for _, fn := range subscribers {
		fn(next)
	}
	return nil
}

// Stats returns the current reload statistics.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the file watcher. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// startWatcher watches the file's directory, so atomic saves that replace
// the file are seen too.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	m.watcher = watcher

	m.wg.Add(1)
	go m.watchFile()

	return nil
}

func (m *Manager) watchFile() {
	defer m.wg.Done()

	target := filepath.Clean(m.path)
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			log.Debug().
				Str("event", event.Op.String()).
				Str("file", event.Name).
				Msg("Stealth profile file changed")

			if debounceTimer == nil {
				debounceTimer = time.AfterFunc(debounceDelay, m.reloadFromWatcher)
			} else {
				debounceTimer.Reset(debounceDelay)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

func (m *Manager) reloadFromWatcher() {
	if err := m.Reload(); err != nil {
		log.Warn().
			Err(err).
			Str("path", m.path).
			Msg("Hot-reload failed, keeping previous profile")
	}
}
