// Package metrics exposes Prometheus counters for the trigger loop. The
// exporter endpoint is optional; counters are registered unconditionally
// and cost nothing when unscraped.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ttslo_cycles_total",
		Help: "Completed monitoring cycles.",
	})

	PriceFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ttslo_price_fetch_failures_total",
		Help: "Cycles where a pair's price could not be fetched.",
	})

	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ttslo_orders_created_total",
		Help: "Trailing-stop orders successfully placed (dry-run included).",
	})

	GateRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ttslo_gate_rejections_total",
		Help: "Order attempts rejected by the safety gate.",
	})

	ChainActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ttslo_chain_activations_total",
		Help: "Pending configurations activated by a parent order fill.",
	})

	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ttslo_notifications_sent_total",
		Help: "Notifications delivered to at least one recipient.",
	})

	NotificationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ttslo_notifications_queued_total",
		Help: "Notifications queued because delivery failed.",
	})

	APIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ttslo_api_errors_total",
		Help: "Exchange API errors by classified kind.",
	}, []string{"kind"})
)

// Serve starts the /metrics endpoint on addr. It blocks; run it in a
// goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
