package observability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	giftcardMetricsOnce sync.Once
	giftcardRegistry    *GiftcardMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record API
// activity per module and method.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solbox",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solbox",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "solbox",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solbox",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// GiftcardMetrics tracks ledger calls and sale volumes.
type GiftcardMetrics struct {
	calls      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	volume     *prometheus.CounterVec
	spillovers prometheus.Counter
	referrals  prometheus.Gauge
	paused     prometheus.Gauge
}

// Giftcard returns the singleton gift card metrics registry.
func Giftcard() *GiftcardMetrics {
	giftcardMetricsOnce.Do(func() {
		giftcardRegistry = &GiftcardMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solbox",
				Subsystem: "giftcard",
				Name:      "calls_total",
				Help:      "Ledger calls segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "solbox",
				Subsystem: "giftcard",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for ledger calls including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solbox",
				Subsystem: "giftcard",
				Name:      "volume_base_units_total",
				Help:      "Base units moved by completed purchases segmented by share.",
			}, []string{"share"}),
			spillovers: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "solbox",
				Subsystem: "giftcard",
				Name:      "spillovers_total",
				Help:      "Purchases whose sponsor was reassigned by spillover.",
			}),
			referrals: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "solbox",
				Subsystem: "giftcard",
				Name:      "referral_count",
				Help:      "Number of relationships recorded in the ledger.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "solbox",
				Subsystem: "giftcard",
				Name:      "paused",
				Help:      "Indicates whether the store is paused (1) or running (0).",
			}),
		}
		prometheus.MustRegister(
			giftcardRegistry.calls,
			giftcardRegistry.latency,
			giftcardRegistry.volume,
			giftcardRegistry.spillovers,
			giftcardRegistry.referrals,
			giftcardRegistry.paused,
		)
	})
	return giftcardRegistry
}

// ObserveCall records the outcome of a ledger call. Known ledger failures are
// labelled by reason; anything else is "error".
func (m *GiftcardMetrics) ObserveCall(operation string, duration time.Duration, err error, reasons map[error]string) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		for target, reason := range reasons {
			if errors.Is(err, target) {
				outcome = reason
				break
			}
		}
	}
	m.calls.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSale adds a completed purchase to the volume counters.
func (m *GiftcardMetrics) RecordSale(amount, commission, bonus, storeShare uint64, spillover bool) {
	if m == nil {
		return
	}
	m.volume.WithLabelValues("amount").Add(float64(amount))
	m.volume.WithLabelValues("commission").Add(float64(commission))
	m.volume.WithLabelValues("bonus").Add(float64(bonus))
	m.volume.WithLabelValues("store").Add(float64(storeShare))
	if spillover {
		m.spillovers.Inc()
	}
}

// SetReferralCount publishes the current ledger length.
func (m *GiftcardMetrics) SetReferralCount(count uint64) {
	if m == nil {
		return
	}
	m.referrals.Set(float64(count))
}

// SetPause records the current pause state.
func (m *GiftcardMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}
