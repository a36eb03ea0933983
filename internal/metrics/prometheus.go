//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/logging"
)

type promRecorder struct {
	dbTotal     *prom.CounterVec
	dbSeconds   *prom.HistogramVec
	toolTotal   *prom.CounterVec
	toolSeconds *prom.HistogramVec
	stmtCache   *prom.CounterVec
	poolInUse   prom.Gauge
	poolIdle    prom.Gauge
	backfill    *prom.CounterVec
	graphNodes  prom.Histogram
	graphLinks  prom.Histogram
}

func (p *promRecorder) IncDBOpTotal(op string, success bool) {
	p.dbTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveDBOpSeconds(op string, success bool, seconds float64) {
	p.dbSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncStmtCacheHit(kind string) {
	p.stmtCache.WithLabelValues(kind, "hit").Inc()
}

func (p *promRecorder) IncStmtCacheMiss(kind string) {
	p.stmtCache.WithLabelValues(kind, "miss").Inc()
}

func (p *promRecorder) ObservePoolStats(inUse, idle int) {
	p.poolInUse.Set(float64(inUse))
	p.poolIdle.Set(float64(idle))
}

func (p *promRecorder) IncBackfillLookup(entityType string, success bool) {
	p.backfill.WithLabelValues(entityType, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveGraphSize(nodes, links int) {
	p.graphNodes.Observe(float64(nodes))
	p.graphLinks.Observe(float64(links))
}

// sizeBuckets covers graphs from a handful of nodes to a few thousand.
var sizeBuckets = prom.ExponentialBuckets(1, 2, 14)

func newPromRecorder(registry *prom.Registry) *promRecorder {
	p := &promRecorder{
		dbTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "db_ops_total",
			Help: "Total number of DB and graph operations",
		}, []string{"op", "success"}),
		dbSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "db_op_seconds",
			Help:    "DB and graph operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool and HTTP handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "tool_call_seconds",
			Help:    "Tool and HTTP handler duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		stmtCache: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_total",
			Help: "Prepared statement cache lookups",
		}, []string{"kind", "result"}),
		poolInUse: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_in_use",
			Help: "Connections currently in use",
		}),
		poolIdle: prom.NewGauge(prom.GaugeOpts{
			Name: "db_pool_idle",
			Help: "Idle connections",
		}),
		backfill: prom.NewCounterVec(prom.CounterOpts{
			Name: "backfill_lookups_total",
			Help: "Batched back-fill lookups per entity type",
		}, []string{"entity_type", "success"}),
		graphNodes: prom.NewHistogram(prom.HistogramOpts{
			Name:    "graph_nodes",
			Help:    "Nodes per assembled graph",
			Buckets: sizeBuckets,
		}),
		graphLinks: prom.NewHistogram(prom.HistogramOpts{
			Name:    "graph_links",
			Help:    "Links per assembled graph",
			Buckets: sizeBuckets,
		}),
	}
	registry.MustRegister(p.dbTotal, p.dbSeconds, p.toolTotal, p.toolSeconds,
		p.stmtCache, p.poolInUse, p.poolIdle, p.backfill, p.graphNodes, p.graphLinks)
	return p
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := newPromRecorder(registry)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.L().Error("metrics listener stopped", "addr", addr, "err", err)
		}
	}()
	logging.L().Info("serving prometheus metrics", "addr", addr)
	return nil
}
