// Package observability keeps lightweight in-process request metrics for the
// developer control surface and emits debug spans through slog.
package observability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// RouteStats aggregates requests for one method and route pattern.
type RouteStats struct {
	Method    string        `json:"method"`
	Route     string        `json:"route"`
	Count     int64         `json:"count"`
	Statuses  map[int]int64 `json:"statuses"`
	TotalTime time.Duration `json:"-"`
	AvgMillis float64       `json:"avg_ms"`
}

// Snapshot is a point-in-time copy of the recorder.
type Snapshot struct {
	Since    time.Time    `json:"since"`
	Requests int64        `json:"requests"`
	Bypassed int64        `json:"bypassed"`
	Injected int64        `json:"injected"`
	Routes   []RouteStats `json:"routes"`
}

// Recorder is safe for concurrent use. A nil *Recorder records nothing.
type Recorder struct {
	mu       sync.Mutex
	logger   *slog.Logger
	since    time.Time
	requests int64
	bypassed int64
	injected int64
	routes   map[string]*RouteStats
}

// NewRecorder creates a recorder. logger may be nil.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		logger: logger,
		since:  time.Now(),
		routes: make(map[string]*RouteStats),
	}
}

// StartSpan logs the start of an operation at debug level and returns a
// function that logs its end.
func (r *Recorder) StartSpan(ctx context.Context, component, operation string) func(error) {
	if r == nil || r.logger == nil {
		return func(error) {}
	}
	start := time.Now()
	r.logger.LogAttrs(ctx, slog.LevelDebug, "span start",
		slog.String("component", component),
		slog.String("operation", operation),
	)
	return func(err error) {
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.Any("error", err))
		}
		r.logger.LogAttrs(ctx, level, "span end", attrs...)
	}
}

// ObserveRequest counts one resolved request.
func (r *Recorder) ObserveRequest(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	key := method + " " + route
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	rs, ok := r.routes[key]
	if !ok {
		rs = &RouteStats{Method: method, Route: route, Statuses: make(map[int]int64)}
		r.routes[key] = rs
	}
	rs.Count++
	rs.Statuses[status]++
	rs.TotalTime += d
}

// ObserveBypass counts a request that was not intercepted.
func (r *Recorder) ObserveBypass() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.bypassed++
	r.mu.Unlock()
}

// ObserveInjected counts a chaos failure.
func (r *Recorder) ObserveInjected() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.injected++
	r.mu.Unlock()
}

// Snapshot returns the current counters, routes sorted by method and route.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Snapshot{
		Since:    r.since,
		Requests: r.requests,
		Bypassed: r.bypassed,
		Injected: r.injected,
		Routes:   make([]RouteStats, 0, len(r.routes)),
	}
	for _, rs := range r.routes {
		cp := *rs
		cp.Statuses = make(map[int]int64, len(rs.Statuses))
		for k, v := range rs.Statuses {
			cp.Statuses[k] = v
		}
		if cp.Count > 0 {
			cp.AvgMillis = float64(cp.TotalTime.Microseconds()) / 1000 / float64(cp.Count)
		}
		out.Routes = append(out.Routes, cp)
	}
	sort.Slice(out.Routes, func(i, j int) bool {
		if out.Routes[i].Route != out.Routes[j].Route {
			return out.Routes[i].Route < out.Routes[j].Route
		}
		return out.Routes[i].Method < out.Routes[j].Method
	})
	return out
}

// Reset clears every counter.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.since = time.Now()
	r.requests, r.bypassed, r.injected = 0, 0, 0
	r.routes = make(map[string]*RouteStats)
	r.mu.Unlock()
}
