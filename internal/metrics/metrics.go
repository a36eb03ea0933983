// Package metrics is the instrumentation surface of the store, the graph
// assembler and the transports. The default recorder drops everything;
// METRICS_PROMETHEUS swaps in a Prometheus exporter.
package metrics

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
)

// Recorder receives every observation made by the service.
type Recorder interface {
	// store and graph assembly operations
	IncDBOpTotal(op string, success bool)
	ObserveDBOpSeconds(op string, success bool, seconds float64)
	// MCP tools and the HTTP form handler
	IncToolTotal(tool string, success bool)
	ObserveToolSeconds(tool string, success bool, seconds float64)

	IncStmtCacheHit(kind string)
	IncStmtCacheMiss(kind string)
	ObservePoolStats(inUse, idle int)

	// one call per back-fill lookup, labelled by entity type
	IncBackfillLookup(entityType string, success bool)
	ObserveGraphSize(nodes, links int)
}

type noopRecorder struct{}

func (*noopRecorder) IncDBOpTotal(string, bool)                {}
func (*noopRecorder) ObserveDBOpSeconds(string, bool, float64) {}
func (*noopRecorder) IncToolTotal(string, bool)                {}
func (*noopRecorder) ObserveToolSeconds(string, bool, float64) {}
func (*noopRecorder) IncStmtCacheHit(string)                   {}
func (*noopRecorder) IncStmtCacheMiss(string)                  {}
func (*noopRecorder) ObservePoolStats(int, int)                {}
func (*noopRecorder) IncBackfillLookup(string, bool)           {}
func (*noopRecorder) ObserveGraphSize(int, int)                {}

const defaultMetricsAddr = ":9090"

var (
	mu       sync.RWMutex
	current  Recorder = &noopRecorder{}
	initOnce sync.Once
)

// Default returns the installed recorder.
func Default() Recorder {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetRecorder installs r for all later observations.
func SetRecorder(r Recorder) {
	mu.Lock()
	defer mu.Unlock()
	current = r
}

func timer(observe func(r Recorder, success bool, seconds float64)) func(success bool) {
	start := time.Now()
	return func(success bool) {
		observe(Default(), success, time.Since(start).Seconds())
	}
}

// TimeOp starts timing a store or assembly operation. Call the returned
// func once with the outcome.
func TimeOp(op string) func(success bool) {
	return timer(func(r Recorder, success bool, seconds float64) {
		r.IncDBOpTotal(op, success)
		r.ObserveDBOpSeconds(op, success, seconds)
	})
}

// TimeTool is TimeOp for tool and HTTP handlers.
func TimeTool(tool string) func(success bool) {
	return timer(func(r Recorder, success bool, seconds float64) {
		r.IncToolTotal(tool, success)
		r.ObserveToolSeconds(tool, success, seconds)
	})
}

// InitFromEnv starts the Prometheus exporter on METRICS_ADDR (default
// :9090) when METRICS_PROMETHEUS is true. The exporter serves /metrics and
// /healthz. Later calls are no-ops.
func InitFromEnv() {
	initOnce.Do(func() {
		raw := os.Getenv("METRICS_PROMETHEUS")
		if raw == "" {
			return
		}
		on, err := strconv.ParseBool(raw)
		if err != nil {
			logging.L().Warn("ignoring METRICS_PROMETHEUS", "value", raw, "err", err)
			return
		}
		if !on {
			return
		}
		addr := os.Getenv("METRICS_ADDR")
		if addr == "" {
			addr = defaultMetricsAddr
		}
		if err := enablePrometheus(addr); err != nil {
			logging.L().Warn("metrics stay disabled", "err", err)
		}
	})
}
