// Package metrics exposes the observatory's event stream as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msageha/observatory/internal/events"
	"github.com/msageha/observatory/internal/logging"
	"github.com/msageha/observatory/internal/model"
)

// Collector owns a private registry so tests and multiple daemons in one
// process do not collide on the default one.
type Collector struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	state        *prometheus.GaugeVec
	selections   *prometheus.CounterVec
	exposures    *prometheus.CounterVec
	exposureTime prometheus.Counter
	separation   prometheus.Histogram
	safetyParks  *prometheus.CounterVec
	fatal        prometheus.Counter
}

// New builds the collectors. dropped, if set, reports the event bus drop count.
func New(dropped func() uint64) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observatory_state_transitions_total",
				Help: "State transitions by target state.",
			},
			[]string{"to"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "observatory_state",
				Help: "1 for the current orchestrator state, 0 otherwise.",
			},
			[]string{"state"},
		),
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observatory_selections_total",
				Help: "Observations selected by the scheduler.",
			},
			[]string{"observation"},
		),
		exposures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observatory_exposures_total",
				Help: "Science exposures written.",
			},
			[]string{"observation"},
		),
		exposureTime: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observatory_exposure_seconds_total",
			Help: "Open-shutter time of science exposures.",
		}),
		separation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "observatory_pointing_separation_degrees",
			Help:    "Angular separation between the solved center and the target per pointing iteration.",
			Buckets: []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}),
		safetyParks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "observatory_safety_parks_total",
				Help: "Parks forced by the safety check, by reason.",
			},
			[]string{"reason"},
		),
		fatal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observatory_fatal_errors_total",
			Help: "Fatal errors that stopped the control loop.",
		}),
	}

	c.registry.MustRegister(
		c.transitions, c.state, c.selections, c.exposures,
		c.exposureTime, c.separation, c.safetyParks, c.fatal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if dropped != nil {
		c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "observatory_event_bus_dropped_total",
			Help: "Events not delivered because a subscriber buffer was full.",
		}, func() float64 { return float64(dropped()) }))
	}
	for _, s := range model.AllStates {
		c.state.WithLabelValues(string(s)).Set(0)
	}
	c.state.WithLabelValues(string(model.StateParked)).Set(1)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Record is an event bus subscriber.
func (c *Collector) Record(e events.Event) {
	switch e.Type {
	case events.EventStateTransition:
		to := e.String("to")
		c.transitions.WithLabelValues(to).Inc()
		if from := e.String("from"); from != "" {
			c.state.WithLabelValues(from).Set(0)
		}
		c.state.WithLabelValues(to).Set(1)
	case events.EventObservationSelected:
		c.selections.WithLabelValues(e.String("observation")).Inc()
	case events.EventExposureTaken:
		c.exposures.WithLabelValues(e.String("observation")).Inc()
		if v, ok := e.Data["exptime_sec"].(float64); ok {
			c.exposureTime.Add(v)
		}
	case events.EventPointingMeasured:
		if v, ok := e.Data["separation_deg"].(float64); ok {
			c.separation.Observe(v)
		}
	case events.EventSafetyPark:
		c.safetyParks.WithLabelValues(e.String("reason")).Inc()
	case events.EventFatal:
		c.fatal.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, log *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infof("metrics listening addr=%s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
