package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	priceSEK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voltmine",
			Subsystem: "price",
			Name:      "sek_per_kwh",
			Help:      "Last observed spot price per zone.",
		}, []string{"zone"},
	)
	priceStale = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voltmine",
			Subsystem: "price",
			Name:      "stale",
			Help:      "1 when the zone's price could not be refreshed recently.",
		}, []string{"zone"},
	)
	slotStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltmine",
			Subsystem: "slot",
			Name:      "starts_total",
			Help:      "Number of miner launches.",
		}, []string{"slot"},
	)
	slotStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltmine",
			Subsystem: "slot",
			Name:      "stops_total",
			Help:      "Number of miner terminations (graceful or kill).",
		}, []string{"slot"},
	)
	slotFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltmine",
			Subsystem: "slot",
			Name:      "failures_total",
			Help:      "Number of launch failures and unexpected exits.",
		}, []string{"slot"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltmine",
			Subsystem: "slot",
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"slot", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "voltmine",
			Subsystem: "slot",
			Name:      "current_state",
			Help:      "Current lifecycle state per slot (1 = active state, 0 = inactive).",
		}, []string{"slot", "state"},
	)
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voltmine",
			Subsystem: "controller",
			Name:      "decisions_total",
			Help:      "Automation decisions by outcome (start, stop, hold).",
		}, []string{"slot", "action"},
	)
)

// Register registers all metrics with the provided registerer. Safe to call
// multiple times.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{priceSEK, priceStale, slotStarts, slotStops, slotFailures, stateTransitions, currentStates, decisions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func SetPrice(zone string, sekPerKWh float64, stale bool) {
	if !regOK.Load() {
		return
	}
	priceSEK.WithLabelValues(zone).Set(sekPerKWh)
	v := 0.0
	if stale {
		v = 1
	}
	priceStale.WithLabelValues(zone).Set(v)
}

func IncStart(slot string) {
	if regOK.Load() {
		slotStarts.WithLabelValues(slot).Inc()
	}
}

func IncStop(slot string) {
	if regOK.Load() {
		slotStops.WithLabelValues(slot).Inc()
	}
}

func IncFailure(slot string) {
	if regOK.Load() {
		slotFailures.WithLabelValues(slot).Inc()
	}
}

func IncDecision(slot, action string) {
	if regOK.Load() {
		decisions.WithLabelValues(slot, action).Inc()
	}
}

func RecordStateTransition(slot, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(slot, from, to).Inc()
	}
}

func SetCurrentState(slot, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1
		}
		currentStates.WithLabelValues(slot, state).Set(v)
	}
}
