// Package metrics wires the broker's counters into Prometheus. It is an
// optional component: a nil *Metrics from the broker's perspective simply
// means metrics aren't being served.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker's Prometheus collectors on a private registry,
// so a broker embedded in another process never pollutes the default one.
type Metrics struct {
	registry        *prometheus.Registry
	activeInFlight  prometheus.Gauge
	concurrentBySF  *prometheus.GaugeVec
	dropsTotal      *prometheus.CounterVec
	deliveriesTotal prometheus.Counter
	registeredNodes prometheus.Gauge
}

// New builds and registers the broker's metric collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		activeInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lora_broker_active_transmissions",
			Help: "Frames currently accepted for delivery but not yet written.",
		}),
		concurrentBySF: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lora_broker_concurrent_by_sf",
			Help: "Frames currently in flight for each spreading factor.",
		}, []string{"sf"}),
		dropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lora_broker_drops_total",
			Help: "Total frames dropped, by reason.",
		}, []string{"reason"}),
		deliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lora_broker_deliveries_total",
			Help: "Total frames successfully delivered.",
		}),
		registeredNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lora_broker_registered_nodes",
			Help: "Number of currently registered nodes.",
		}),
	}
	reg.MustRegister(m.activeInFlight, m.concurrentBySF, m.dropsTotal, m.deliveriesTotal, m.registeredNodes)
	return m
}

// Handler returns an http.Handler that serves this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetActive records the current active-transmission count.
func (m *Metrics) SetActive(n int64) { m.activeInFlight.Set(float64(n)) }

// SetConcurrentSF records the current in-flight count for sf.
func (m *Metrics) SetConcurrentSF(sf int, n int64) {
	m.concurrentBySF.WithLabelValues(strconv.Itoa(sf)).Set(float64(n))
}

// ObserveDelivery records one successful delivery.
func (m *Metrics) ObserveDelivery() { m.deliveriesTotal.Inc() }

// ObserveDrop records one dropped frame for the given reason.
func (m *Metrics) ObserveDrop(reason string) { m.dropsTotal.WithLabelValues(reason).Inc() }

// SetRegisteredNodes records the current registry size.
func (m *Metrics) SetRegisteredNodes(n int) { m.registeredNodes.Set(float64(n)) }
