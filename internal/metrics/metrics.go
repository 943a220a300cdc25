// internal/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sweeper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sweeper/internal/wallet"
)

const namespace = "sweeper"

// Collector holds the sweeper's prometheus metrics.
type Collector struct {
	transactions  *prometheus.CounterVec
	txDuration    *prometheus.HistogramVec
	quotes        *prometheus.CounterVec
	quoteAttempts prometheus.Histogram
	operations    *prometheus.CounterVec
	reclaimed     prometheus.Counter
	feesCollected prometheus.Counter
	registry      *prometheus.Registry
}

// NewCollector создаёт метрики и регистрирует их в reg.
// Пустой reg означает отдельный реестр (удобно для тестов).
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions by operation and status",
		}, []string{"operation", "status"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Sign, submit and confirm duration",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"operation"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quote requests by result",
		}, []string{"result"}),
		quoteAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_attempts",
			Help:      "Attempts needed per quote",
			Buckets:   prometheus.LinearBuckets(1, 1, 5),
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Reclaim and convert operations by outcome",
		}, []string{"operation", "outcome"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_lamports_total",
			Help:      "Rent reclaimed from closed accounts",
		}),
		feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_lamports_total",
			Help:      "Service fee transferred",
		}),
		registry: reg,
	}

	reg.MustRegister(c.transactions, c.txDuration, c.quotes, c.quoteAttempts,
		c.operations, c.reclaimed, c.feesCollected)
	return c
}

// RecordQuote records one quote outcome.
func (c *Collector) RecordQuote(ok bool, attempts int) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.quotes.WithLabelValues(result).Inc()
	c.quoteAttempts.Observe(float64(attempts))
}

// RecordTransaction records one executed transaction.
func (c *Collector) RecordTransaction(operation string, err error, latency time.Duration) {
	status := "confirmed"
	switch {
	case err == nil:
	case wallet.IsRejected(err) || errors.Is(err, context.Canceled):
		status = "cancelled"
	default:
		status = "failed"
	}
	c.transactions.WithLabelValues(operation, status).Inc()
	if err == nil {
		c.txDuration.WithLabelValues(operation).Observe(latency.Seconds())
	}
}

// RecordOperation records the outcome of one reclaim or convert run.
func (c *Collector) RecordOperation(operation, outcome string, reclaimed, fee uint64) {
	c.operations.WithLabelValues(operation, outcome).Inc()
	c.reclaimed.Add(float64(reclaimed))
	c.feesCollected.Add(float64(fee))
}

// WatchNodes exports the pool's per-node request counters and latency,
// read at scrape time.
func (c *Collector) WatchNodes(pool *rpc.Pool) error {
	return c.registry.Register(newNodeCollector(pool))
}

type nodeCollector struct {
	pool      *rpc.Pool
	requests  *prometheus.Desc
	latency   *prometheus.Desc
	active    *prometheus.Desc
	available *prometheus.Desc
}

func newNodeCollector(pool *rpc.Pool) *nodeCollector {
	return &nodeCollector{
		pool: pool,
		requests: prometheus.NewDesc(prometheus.BuildFQName(namespace, "rpc", "requests_total"),
			"RPC requests per node by result", []string{"node", "result"}, nil),
		latency: prometheus.NewDesc(prometheus.BuildFQName(namespace, "rpc", "latency_seconds"),
			"Smoothed RPC latency per node", []string{"node"}, nil),
		active: prometheus.NewDesc(prometheus.BuildFQName(namespace, "rpc", "node_active"),
			"1 when the node is in rotation", []string{"node"}, nil),
		available: prometheus.NewDesc(prometheus.BuildFQName(namespace, "rpc", "pool_available"),
			"1 when at least one node is in rotation", nil, nil),
	}
}

func (n *nodeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- n.requests
	ch <- n.latency
	ch <- n.active
	ch <- n.available
}

func (n *nodeCollector) Collect(ch chan<- prometheus.Metric) {
	for _, node := range n.pool.Clients() {
		ok, failed, latency := node.GetMetrics()
		ch <- prometheus.MustNewConstMetric(n.requests, prometheus.CounterValue, float64(ok), node.URL, "ok")
		ch <- prometheus.MustNewConstMetric(n.requests, prometheus.CounterValue, float64(failed), node.URL, "error")
		ch <- prometheus.MustNewConstMetric(n.latency, prometheus.GaugeValue, latency.Seconds(), node.URL)
		ch <- prometheus.MustNewConstMetric(n.active, prometheus.GaugeValue, flag(node.IsActive()), node.URL)
	}
	ch <- prometheus.MustNewConstMetric(n.available, prometheus.GaugeValue, flag(n.pool.HasActiveClients()))
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler exposes the registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve runs the /metrics endpoint until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
