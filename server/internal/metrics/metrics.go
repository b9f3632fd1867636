package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/energytracker/energytracker/server/internal/relay"
)

// Metric names exposed by Registry.
const (
	RequestsTotal   = "energytracker_relay_requests_total"
	DurationSeconds = "energytracker_relay_duration_seconds"
	InFlight        = "energytracker_relay_in_flight"
)

// Registry counts relay calculations. It implements relay.Observer and
// serves its state in the Prometheus exposition format.
type Registry struct {
	reg      *prometheus.Registry
	requests *prometheus.CounterVec
	duration prometheus.Summary
	inFlight prometheus.Gauge
	handler  http.Handler
}

// New creates a Registry with a zero counter for every outcome kind.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: RequestsTotal,
			Help: "Calculation requests handled by the relay, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: DurationSeconds,
			Help: "Wall time spent handling calculation requests.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: InFlight,
			Help: "Calculator processes currently running.",
		}),
	}
	r.reg.MustRegister(r.requests, r.duration, r.inFlight)
	for _, k := range relay.Kinds {
		r.requests.WithLabelValues(string(k))
	}
	r.handler = promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		ErrorLog: slogAdapter{},
	})
	return r
}

// Begin marks one calculation as in flight.
func (r *Registry) Begin() {
	r.inFlight.Inc()
}

// End records the outcome and duration of a calculation started with Begin.
func (r *Registry) End(kind relay.Kind, d time.Duration) {
	r.inFlight.Dec()
	r.requests.WithLabelValues(string(kind)).Inc()
	r.duration.Observe(d.Seconds())
}

// Gather returns the current metric families.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

// ServeHTTP writes the metric families in the format negotiated from the
// request's Accept header.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.handler.ServeHTTP(w, req)
}

// slogAdapter routes promhttp errors to the default slog logger.
type slogAdapter struct{}

func (slogAdapter) Println(v ...interface{}) {
	slog.Error("metrics: exposition failed", "err", v)
}
