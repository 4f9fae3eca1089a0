// Package stats tracks per-host fetch outcomes for the /stats endpoint.
package stats

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/stealthfetch/internal/types"
)

// maxDomains is the maximum number of hosts tracked before LRU eviction.
const maxDomains = 10000

// evictionBatchSize is the number of hosts evicted at once.
const evictionBatchSize = 100

// maxCounterValue resets a host's counters before they can overflow.
const maxCounterValue int64 = 1 << 62

// DomainStats holds fetch counters for one host.
type DomainStats struct {
	mu sync.RWMutex

	requests       int64
	successes      int64
	failures       map[types.ErrorKind]int64
	totalLatencyMs int64

	lastRequest time.Time
	lastSuccess time.Time
	lastAccess  time.Time
}

// Snapshot is a point-in-time copy of a host's counters.
type Snapshot struct {
	Host         string                    `json:"host"`
	Requests     int64                     `json:"requests"`
	Successes    int64                     `json:"successes"`
	Failures     map[types.ErrorKind]int64 `json:"failures,omitempty"`
	AvgLatencyMs int64                     `json:"avgLatencyMs"`
	ErrorRate    float64                   `json:"errorRate"`
	LastRequest  time.Time                 `json:"lastRequest,omitempty"`
	LastSuccess  time.Time                 `json:"lastSuccess,omitempty"`
}

func (s *DomainStats) snapshot(host string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Host:        host,
		Requests:    s.requests,
		Successes:   s.successes,
		LastRequest: s.lastRequest,
		LastSuccess: s.lastSuccess,
	}
	if len(s.failures) > 0 {
		snap.Failures = make(map[types.ErrorKind]int64, len(s.failures))
		for k, v := range s.failures {
			snap.Failures[k] = v
		}
	}
	if s.requests > 0 {
		snap.AvgLatencyMs = s.totalLatencyMs / s.requests
		snap.ErrorRate = float64(s.requests-s.successes) / float64(s.requests)
	}
	return snap
}

// Manager manages statistics for all hosts.
type Manager struct {
	mu      sync.RWMutex
	domains map[string]*DomainStats

	maxAge    time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates a Manager and starts its cleanup routine. Hosts not
// seen for maxAge are dropped.
func NewManager(maxAge time.Duration) *Manager {
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	m := &Manager{
		domains: make(map[string]*DomainStats),
		maxAge:  maxAge,
		stopCh:  make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupRoutine()

	return m
}

func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.maxAge / 6)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupStale(m.maxAge)
		case <-m.stopCh:
			return
		}
	}
}

// cleanupStale removes hosts that haven't been seen recently.
func (m *Manager) cleanupStale(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var removed int

	for host, stats := range m.domains {
		stats.mu.RLock()
		lastAccess := stats.lastAccess
		stats.mu.RUnlock()

		if now.Sub(lastAccess) > maxAge {
			delete(m.domains, host)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().
			Int("removed", removed).
			Int("remaining", len(m.domains)).
			Msg("Cleaned up stale host stats")
	}
}

// Close stops the cleanup routine. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}

// ExtractHost returns the lower-cased host of a URL, or "" if it can't be parsed.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

func (m *Manager) getOrCreate(host string) *DomainStats {
	m.mu.Lock()

	stats, exists := m.domains[host]
	if !exists {
		if len(m.domains) >= maxDomains {
			m.evictOldestBatchLocked(evictionBatchSize)
		}
		stats = &DomainStats{
			failures:   make(map[types.ErrorKind]int64),
			lastAccess: time.Now(),
		}
		m.domains[host] = stats
	}
	m.mu.Unlock()
	return stats
}

// evictOldestBatchLocked removes the count least recently seen hosts.
// Must be called with m.mu held.
func (m *Manager) evictOldestBatchLocked(count int) {
	if count <= 0 || len(m.domains) == 0 {
		return
	}

	type hostTime struct {
		host       string
		lastAccess time.Time
	}
	candidates := make([]hostTime, 0, len(m.domains))
	for host, stats := range m.domains {
		stats.mu.RLock()
		candidates = append(candidates, hostTime{host, stats.lastAccess})
		stats.mu.RUnlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastAccess.Before(candidates[j].lastAccess)
	})

	for i := 0; i < count && i < len(candidates); i++ {
		delete(m.domains, candidates[i].host)
	}
}

// Record updates the host's counters after a fetch. A nil err counts as a
// success; otherwise the failure is bucketed by its error kind.
func (m *Manager) Record(rawURL string, latency time.Duration, err error) {
	host := ExtractHost(rawURL)
	if host == "" {
		return
	}

	stats := m.getOrCreate(host)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	if stats.requests >= maxCounterValue {
		log.Warn().
			Str("host", host).
			Int64("requests", stats.requests).
			Msg("Counter overflow protection triggered, resetting stats")
		stats.requests = 0
		stats.successes = 0
		stats.totalLatencyMs = 0
		stats.failures = make(map[types.ErrorKind]int64)
		stats.lastSuccess = time.Time{}
	}

	now := time.Now()
	latencyMs := latency.Milliseconds()
	stats.requests++
	if stats.totalLatencyMs < maxCounterValue-latencyMs {
		stats.totalLatencyMs += latencyMs
	}
	stats.lastRequest = now
	stats.lastAccess = now

	if err == nil {
		stats.successes++
		stats.lastSuccess = now
		return
	}

	kind := types.KindOf(err)
	if kind == "" {
		kind = "unknown"
	}
	stats.failures[kind]++
}

// Get returns a snapshot for host, and false if it isn't tracked.
func (m *Manager) Get(host string) (Snapshot, bool) {
	host = strings.ToLower(host)

	m.mu.RLock()
	stats, ok := m.domains[host]
	m.mu.RUnlock()

	if !ok {
		return Snapshot{}, false
	}
	return stats.snapshot(host), true
}

// All returns snapshots for every tracked host, busiest first.
func (m *Manager) All() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.domains))
	for host, stats := range m.domains {
		out = append(out, stats.snapshot(host))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Host < out[j].Host
	})
	return out
}

// Len returns the number of tracked hosts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.domains)
}
