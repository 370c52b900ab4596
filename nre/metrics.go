package nre

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes inference-loop Prometheus metrics. All methods are
// nil-safe so instrumented code never has to guard against an absent
// collector.
type Collector struct {
	RoundsCompleted  prometheus.Counter
	SimulationsTotal *prometheus.CounterVec
	StoreRecords     prometheus.Gauge
	RegionVolume     prometheus.Gauge
}

// NewCollector registers the inference metrics against the provided
// registerer. A nil registerer falls back to the Prometheus default.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	rounds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nre_rounds_completed_total",
		Help: "Cumulative number of completed nested inference rounds.",
	})
	sims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nre_simulations_total",
		Help: "Cumulative number of simulator invocations by final status.",
	}, []string{"status"})
	records := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nre_store_records",
		Help: "Current number of records in the simulation store.",
	})
	volume := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nre_region_volume",
		Help: "Unit-cube volume of the current constrained region.",
	})

	for _, c := range []prometheus.Collector{rounds, sims, records, volume} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return &Collector{
		RoundsCompleted:  rounds,
		SimulationsTotal: sims,
		StoreRecords:     records,
		RegionVolume:     volume,
	}, nil
}

// IncRound records a completed round.
func (c *Collector) IncRound() {
	if c == nil || c.RoundsCompleted == nil {
		return
	}
	c.RoundsCompleted.Inc()
}

// AddSimulations records simulator outcomes by status label.
func (c *Collector) AddSimulations(status string, n int) {
	if c == nil || c.SimulationsTotal == nil || n == 0 {
		return
	}
	c.SimulationsTotal.WithLabelValues(status).Add(float64(n))
}

// SetStoreRecords updates the store size gauge.
func (c *Collector) SetStoreRecords(n int) {
	if c == nil || c.StoreRecords == nil {
		return
	}
	c.StoreRecords.Set(float64(n))
}

// SetRegionVolume updates the constrained-region volume gauge.
func (c *Collector) SetRegionVolume(v float64) {
	if c == nil || c.RegionVolume == nil {
		return
	}
	c.RegionVolume.Set(v)
}
