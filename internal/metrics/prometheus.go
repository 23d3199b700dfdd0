package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flashledger"

// Collector holds the ledger metrics. A nil *Collector is a valid no-op.
type Collector struct {
	registry *prometheus.Registry

	OperationsTotal   *prometheus.CounterVec
	OperationLatency  *prometheus.HistogramVec
	FlashLoansTotal   *prometheus.CounterVec
	FlashLoanVolume   *prometheus.CounterVec
	FeeRevenue        *prometheus.CounterVec
	FeesWithdrawn     *prometheus.CounterVec
	PoolReserve       *prometheus.GaugeVec
	PoolShareSupply   *prometheus.GaugeVec
	PoolFeeBalance    *prometheus.GaugeVec
	ReplayInstruction *prometheus.CounterVec
}

// NewCollector creates a collector registered on its own registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ops",
			Name:      "total",
			Help:      "Ledger operations by kind and outcome",
		},
		[]string{"op", "status"},
	)

	c.OperationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ops",
			Name:      "latency_seconds",
			Help:      "Ledger operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		},
		[]string{"op"},
	)

	c.FlashLoansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "loans_total",
			Help:      "Flash loans by pool and terminal state",
		},
		[]string{"pool", "state"},
	)

	c.FlashLoanVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flash",
			Name:      "principal_total",
			Help:      "Settled flash loan principal in reserve base units",
		},
		[]string{"pool"},
	)

	c.FeeRevenue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fees",
			Name:      "revenue_total",
			Help:      "Fee revenue routed to fee accounts",
		},
		[]string{"pool"},
	)

	c.FeesWithdrawn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fees",
			Name:      "withdrawn_total",
			Help:      "Fees withdrawn by pool owners",
		},
		[]string{"pool"},
	)

	c.PoolReserve = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "reserve_balance",
			Help:      "Reserve balance per pool",
		},
		[]string{"pool"},
	)

	c.PoolShareSupply = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "share_supply",
			Help:      "Outstanding shares per pool",
		},
		[]string{"pool"},
	)

	c.PoolFeeBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "fee_balance",
			Help:      "Undistributed fee balance per pool",
		},
		[]string{"pool"},
	)

	c.ReplayInstruction = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "instructions_total",
			Help:      "Replayed instructions by outcome",
		},
		[]string{"outcome"},
	)

	c.registry.MustRegister(
		c.OperationsTotal,
		c.OperationLatency,
		c.FlashLoansTotal,
		c.FlashLoanVolume,
		c.FeeRevenue,
		c.FeesWithdrawn,
		c.PoolReserve,
		c.PoolShareSupply,
		c.PoolFeeBalance,
		c.ReplayInstruction,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveOperation(op string, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.OperationsTotal.WithLabelValues(op, status).Inc()
	c.OperationLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) ObservePool(pool string, reserve, shares, fees uint64) {
	if c == nil {
		return
	}
	c.PoolReserve.WithLabelValues(pool).Set(float64(reserve))
	c.PoolShareSupply.WithLabelValues(pool).Set(float64(shares))
	c.PoolFeeBalance.WithLabelValues(pool).Set(float64(fees))
}

func (c *Collector) ObserveFlashLoan(pool, state string, principal, fee uint64) {
	if c == nil {
		return
	}
	c.FlashLoansTotal.WithLabelValues(pool, state).Inc()
	if state != "settled" {
		return
	}
	c.FlashLoanVolume.WithLabelValues(pool).Add(float64(principal))
	c.FeeRevenue.WithLabelValues(pool).Add(float64(fee))
}

func (c *Collector) ObserveFeeWithdrawal(pool string, amount uint64) {
	if c == nil {
		return
	}
	c.FeesWithdrawn.WithLabelValues(pool).Add(float64(amount))
}

func (c *Collector) ObserveReplay(outcome string) {
	if c == nil {
		return
	}
	c.ReplayInstruction.WithLabelValues(outcome).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	if c == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
