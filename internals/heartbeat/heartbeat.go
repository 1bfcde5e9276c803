// Package heartbeat tracks client liveness and evicts clients that go quiet.
package heartbeat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tanmay-xvx/meshbus/internals/logging"
)

// ErrNotExpired is returned by an EvictFunc that finds the client beat again
// after the scan picked it.
var ErrNotExpired = errors.New("heartbeat not expired")

// Table maps a client name to the time it was last heard from.
type Table struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{lastSeen: make(map[string]time.Time)}
}

// Beat stamps name with now.
func (t *Table) Beat(name string, now time.Time) {
	t.mu.Lock()
	t.lastSeen[name] = now
	t.mu.Unlock()
}

// Remove forgets name.
func (t *Table) Remove(name string) {
	t.mu.Lock()
	delete(t.lastSeen, name)
	t.mu.Unlock()
}

// LastSeen returns when name last beat.
func (t *Table) LastSeen(name string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastSeen[name]
	return ts, ok
}

// Expired returns, sorted, the names whose last beat is older than window.
func (t *Table) Expired(now time.Time, window time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var names []string
	for name, ts := range t.lastSeen {
		if now.Sub(ts) > window {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsExpired reports whether name is tracked and silent for longer than window.
func (t *Table) IsExpired(name string, now time.Time, window time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastSeen[name]
	return ok && now.Sub(ts) > window
}

// Len returns the number of tracked names.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastSeen)
}

// EvictFunc disconnects a client that missed its heartbeat window and removes
// it from the table. It must re-check expiry under whatever lock serialises it
// with Beat's callers and return ErrNotExpired if the client came back.
type EvictFunc func(ctx context.Context, name string) error

// Monitor periodically scans a Table and evicts expired entries.
type Monitor struct {
	name     string
	table    *Table
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	evict    EvictFunc
	log      logging.Logger
}

// NewMonitor creates a monitor that scans every interval and evicts entries
// silent for longer than timeout. A nil clock means time.Now.
func NewMonitor(name string, table *Table, interval, timeout time.Duration, now func() time.Time, evict EvictFunc, log logging.Logger) *Monitor {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logging.NewNop()
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Monitor{
		name:     name,
		table:    table,
		interval: interval,
		timeout:  timeout,
		now:      now,
		evict:    evict,
		log:      log.WithField("monitor", name),
	}
}

// Run scans until ctx is cancelled. It always returns nil so it can sit in
// an errgroup next to other monitors.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Debugf("Heartbeat monitor started (interval %s, timeout %s)", m.interval, m.timeout)
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Heartbeat monitor stopped")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Timeout returns the silence window after which a client is evicted.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Check runs one scan and returns the names it evicted. An eviction that
// fails is logged and the entry is left for the next scan.
func (m *Monitor) Check(ctx context.Context) []string {
	var evicted []string
	for _, name := range m.table.Expired(m.now(), m.timeout) {
		err := m.evict(ctx, name)
		if errors.Is(err, ErrNotExpired) {
			m.log.Debugf("%s beat again before eviction", name)
			continue
		}
		if err != nil {
			m.log.WithError(err).Warnf("Failed to evict %s", name)
			continue
		}
		m.log.Infof("%s evicted after missing heartbeats", name)
		evicted = append(evicted, name)
	}
	return evicted
}
