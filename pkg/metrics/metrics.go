package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Metrics collects refresh, render and submission counters for one mount.
type Metrics struct {
	mu sync.RWMutex

	// Refresh metrics, by view
	RefreshTotal      map[string]int64
	RefreshFailed     map[string]int64
	RefreshDurationNs map[string]int64

	// Render cache metrics. Recorded on every read, outside mu.
	renderHits   *xsync.Counter
	renderMisses *xsync.Counter
	renderBytes  *xsync.Counter

	// Submission metrics
	SubmitTotal      int64
	SubmitFailed     int64
	SubmitBytesTotal int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		RefreshTotal:      make(map[string]int64),
		RefreshFailed:     make(map[string]int64),
		RefreshDurationNs: make(map[string]int64),
		renderHits:        xsync.NewCounter(),
		renderMisses:      xsync.NewCounter(),
		renderBytes:       xsync.NewCounter(),
	}
}

// RecordRefresh records one completed refresh of a cached view
func (m *Metrics) RecordRefresh(view string, ok bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefreshTotal[view]++
	m.RefreshDurationNs[view] += duration.Nanoseconds()
	if !ok {
		m.RefreshFailed[view]++
	}

	log.Debug().
		Str("view", view).
		Bool("ok", ok).
		Dur("duration", duration).
		Msg("refresh completed")
}

// RecordRender records a render cache lookup
func (m *Metrics) RecordRender(bytes int64, hit bool) {
	if hit {
		m.renderHits.Inc()
		return
	}
	m.renderMisses.Inc()
	m.renderBytes.Add(bytes)
}

// RecordSubmit records a submission attempt
func (m *Metrics) RecordSubmit(bytes int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SubmitTotal++
	m.SubmitBytesTotal += bytes
	if err != nil {
		m.SubmitFailed++
	}
}

// Snapshot returns the counters as a flat name -> value map
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64)
	for view, n := range m.RefreshTotal {
		out["contestfs_refresh_total{view=\""+view+"\"}"] = n
		out["contestfs_refresh_failed{view=\""+view+"\"}"] = m.RefreshFailed[view]
	}
	out["contestfs_render_hits_total"] = m.renderHits.Value()
	out["contestfs_render_misses_total"] = m.renderMisses.Value()
	out["contestfs_render_bytes_total"] = m.renderBytes.Value()
	out["contestfs_submit_total"] = m.SubmitTotal
	out["contestfs_submit_failed"] = m.SubmitFailed
	out["contestfs_submit_bytes_total"] = m.SubmitBytesTotal
	return out
}

// LogSummary logs a summary of current metrics
func (m *Metrics) LogSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]string, 0, len(m.RefreshTotal))
	var refreshes, failures int64
	for view, n := range m.RefreshTotal {
		views = append(views, view)
		refreshes += n
		failures += m.RefreshFailed[view]
	}
	sort.Strings(views)

	hits, misses := m.renderHits.Value(), m.renderMisses.Value()
	renderHitRate := float64(0)
	if hits+misses > 0 {
		renderHitRate = float64(hits) / float64(hits+misses)
	}

	log.Info().
		Strs("views", views).
		Int64("refreshes", refreshes).
		Int64("refresh_failures", failures).
		Int64("render_hits", hits).
		Int64("render_misses", misses).
		Float64("render_hit_rate", renderHitRate).
		Int64("submissions", m.SubmitTotal).
		Int64("submission_failures", m.SubmitFailed).
		Msg("metrics summary")
}
