package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CollectionFacetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "collection_facets_total", Help: "Market data facets collected, by outcome"},
		[]string{"facet", "result"},
	)
	AlertNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alert_notifications_total", Help: "Alerts raised by the price alert rules"},
		[]string{"rule"},
	)
	TriggerAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trigger_attempts_total", Help: "Trigger notification attempts, by outcome"},
		[]string{"result"},
	)
	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_sent_total", Help: "Per-recipient notification deliveries"},
		[]string{"channel", "result"},
	)
	SchedulerRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "scheduler_running", Help: "1 while the named scheduler is started"},
		[]string{"scheduler"},
	)
)

func init() {
	prometheus.MustRegister(
		CollectionFacetsTotal,
		AlertNotificationsTotal,
		TriggerAttemptsTotal,
		NotificationsSentTotal,
		SchedulerRunning,
	)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetRunning flips the scheduler_running gauge
func SetRunning(scheduler string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	SchedulerRunning.WithLabelValues(scheduler).Set(v)
}

// Outcome maps an error to the result label
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
