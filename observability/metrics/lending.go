package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LendingMetrics struct {
	operations       *prometheus.CounterVec
	operationErrors  *prometheus.CounterVec
	bridgeDispatches *prometheus.CounterVec
	bridgeMints      *prometheus.CounterVec
	poolSupply       *prometheus.GaugeVec
	poolBorrow       *prometheus.GaugeVec
	protocolFees     *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide lending metrics registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of completed ledger operations by kind.",
			}, []string{"op"}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operation_errors_total",
				Help: "Count of rejected ledger operations by kind.",
			}, []string{"op"}),
			bridgeDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bridge_dispatches_total",
				Help: "Count of cross-domain transfer dispatches by destination domain.",
			}, []string{"domain"}),
			bridgeMints: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "bridge_mints_total",
				Help: "Count of inbound bridge mints by origin domain.",
			}, []string{"domain"}),
			poolSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_pool_supply_assets",
				Help: "Total supplied liquidity per pool.",
			}, []string{"pool"}),
			poolBorrow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_pool_borrow_assets",
				Help: "Total outstanding debt per pool.",
			}, []string{"pool"}),
			protocolFees: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_protocol_fees",
				Help: "Accrued, unwithdrawn protocol fees per pool.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.operationErrors,
			lendingRegistry.bridgeDispatches,
			lendingRegistry.bridgeMints,
			lendingRegistry.poolSupply,
			lendingRegistry.poolBorrow,
			lendingRegistry.protocolFees,
		)
	})
	return lendingRegistry
}

// ObserveOperation records the outcome of a ledger entry point.
func (m *LendingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		m.operationErrors.WithLabelValues(op).Inc()
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

// ObserveBridgeDispatch counts an outbound transfer to the domain.
func (m *LendingMetrics) ObserveBridgeDispatch(domain string) {
	if m == nil {
		return
	}
	m.bridgeDispatches.WithLabelValues(domain).Inc()
}

// ObserveBridgeMint counts an inbound mint from the domain.
func (m *LendingMetrics) ObserveBridgeMint(domain string) {
	if m == nil {
		return
	}
	m.bridgeMints.WithLabelValues(domain).Inc()
}

// SetPoolTotals publishes the pool's headline accounting figures.
func (m *LendingMetrics) SetPoolTotals(pool string, supplyAssets, borrowAssets float64) {
	if m == nil {
		return
	}
	m.poolSupply.WithLabelValues(pool).Set(supplyAssets)
	m.poolBorrow.WithLabelValues(pool).Set(borrowAssets)
}

// SetProtocolFees publishes the pool's accrued fee balance.
func (m *LendingMetrics) SetProtocolFees(pool string, fees float64) {
	if m == nil {
		return
	}
	m.protocolFees.WithLabelValues(pool).Set(fees)
}
