package credential

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsRecorder pushes per-provider credential-health gauges to the
// default Prometheus registry, grounded in the pack's common practice of
// exposing pool/health gauges (BaSui01-agentflow, flemzord-sclaw,
// mercator-hq-jupiter all carry prometheus/client_golang for this purpose).
type metricsRecorder struct {
	provider string
	healthy  prometheus.Gauge
	cooling  prometheus.Gauge
	disabled prometheus.Gauge
}

var (
	registerOnce sync.Once
	healthyVec   *prometheus.GaugeVec
	coolingVec   *prometheus.GaugeVec
	disabledVec  *prometheus.GaugeVec
)

func registerCollectors() {
	registerOnce.Do(func() {
		healthyVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmgateway_credential_store_healthy",
			Help: "Number of healthy credentials currently in the pool, by provider.",
		}, []string{"provider"})
		coolingVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmgateway_credential_store_cooling",
			Help: "Number of cooling credentials currently in the pool, by provider.",
		}, []string{"provider"})
		disabledVec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmgateway_credential_store_disabled",
			Help: "Number of disabled credentials currently in the pool, by provider.",
		}, []string{"provider"})
		prometheus.MustRegister(healthyVec, coolingVec, disabledVec)
	})
}

func newMetricsRecorder(provider string) metricsRecorder {
	registerCollectors()
	return metricsRecorder{
		provider: provider,
		healthy:  healthyVec.WithLabelValues(provider),
		cooling:  coolingVec.WithLabelValues(provider),
		disabled: disabledVec.WithLabelValues(provider),
	}
}

func (m metricsRecorder) setCounts(healthy, cooling, disabled int) {
	m.healthy.Set(float64(healthy))
	m.cooling.Set(float64(cooling))
	m.disabled.Set(float64(disabled))
}
