package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ProtocolMetrics aggregates the collectors for the collateralization engine.
type ProtocolMetrics struct {
	TradesOpened    *prometheus.CounterVec
	TradesSettled   *prometheus.CounterVec
	MeltsExecuted   prometheus.Counter
	BasketStatus    prometheus.Gauge
	BasketGen       prometheus.Gauge
	MaintainErrors  prometheus.Counter
	MaintainedTotal prometheus.Counter
}

var (
	protocolMetricsOnce sync.Once
	protocolRegistry    *ProtocolMetrics
)

// Metrics returns the lazily-initialised protocol metrics registry.
func Metrics() *ProtocolMetrics {
	protocolMetricsOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rtoken",
				Subsystem: "trading",
				Name:      "trades_opened_total",
				Help:      "Auctions opened, segmented by venue.",
			}, []string{"venue"}),
			TradesSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rtoken",
				Subsystem: "trading",
				Name:      "trades_settled_total",
				Help:      "Auctions settled, segmented by venue and outcome.",
			}, []string{"venue", "outcome"}),
			MeltsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rtoken",
				Subsystem: "revenue",
				Name:      "melts_total",
				Help:      "Melt batches executed by the furnace.",
			}),
			BasketStatus: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rtoken",
				Subsystem: "basket",
				Name:      "status",
				Help:      "Basket status: 0 sound, 1 iffy, 2 disabled.",
			}),
			BasketGen: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rtoken",
				Subsystem: "basket",
				Name:      "generation",
				Help:      "Reference basket generation.",
			}),
			MaintainErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rtoken",
				Subsystem: "maintenance",
				Name:      "errors_total",
				Help:      "Maintenance cycles that returned an error.",
			}),
			MaintainedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rtoken",
				Subsystem: "maintenance",
				Name:      "cycles_total",
				Help:      "Maintenance cycles executed.",
			}),
		}
		prometheus.MustRegister(
			protocolRegistry.TradesOpened,
			protocolRegistry.TradesSettled,
			protocolRegistry.MeltsExecuted,
			protocolRegistry.BasketStatus,
			protocolRegistry.BasketGen,
			protocolRegistry.MaintainErrors,
			protocolRegistry.MaintainedTotal,
		)
	})
	return protocolRegistry
}
