package node

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dagledger/core"
)

// PromInstrumentation implements core.Instrumentation against
// prometheus/client_golang, the metrics library the rest of the example
// pack reaches for.
type PromInstrumentation struct {
	submitted     prometheus.Counter
	validated     *prometheus.CounterVec
	stabilized    prometheus.Counter
	stableMCI     prometheus.Gauge
	stabilityLag  prometheus.Histogram
	cacheNormal   prometheus.Gauge
	cacheUnhandled prometheus.Gauge
	cacheKnownBad prometheus.Gauge
}

// NewPromInstrumentation registers every metric against reg and returns the
// ready-to-use core.Instrumentation.
func NewPromInstrumentation(reg prometheus.Registerer) *PromInstrumentation {
	p := &PromInstrumentation{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_joints_submitted_total",
			Help: "Joints accepted by SubmitJoint.",
		}),
		validated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagledger_joints_validated_total",
			Help: "Joints that finished ready validation, by resulting sequence.",
		}, []string{"sequence"}),
		stabilized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagledger_joints_stabilized_total",
			Help: "Joints that reached ApplyStable.",
		}),
		stableMCI: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagledger_last_stable_mci",
			Help: "Most recently committed main-chain index.",
		}),
		stabilityLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dagledger_stability_lag_seconds",
			Help:    "Wall-clock time between a joint's submission and its stabilization.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheNormal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagledger_cache_normal_joints",
			Help: "Joints currently resident in the cache's normal map.",
		}),
		cacheUnhandled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagledger_cache_unhandled_joints",
			Help: "Joints awaiting ready validation.",
		}),
		cacheKnownBad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagledger_cache_known_bad_joints",
			Help: "Joints permanently rejected.",
		}),
	}
	reg.MustRegister(p.submitted, p.validated, p.stabilized, p.stableMCI,
		p.stabilityLag, p.cacheNormal, p.cacheUnhandled, p.cacheKnownBad)
	return p
}

func (p *PromInstrumentation) IncSubmitted() { p.submitted.Inc() }

func (p *PromInstrumentation) IncValidated(seq core.JointSequence) {
	p.validated.WithLabelValues(seq.String()).Inc()
}

func (p *PromInstrumentation) IncStabilized() { p.stabilized.Inc() }

func (p *PromInstrumentation) ObserveStableMCI(mci int64) { p.stableMCI.Set(float64(mci)) }

func (p *PromInstrumentation) ObserveStabilityLag(d time.Duration) {
	p.stabilityLag.Observe(d.Seconds())
}

func (p *PromInstrumentation) SetCacheSize(normal, unhandled, knownBad int) {
	p.cacheNormal.Set(float64(normal))
	p.cacheUnhandled.Set(float64(unhandled))
	p.cacheKnownBad.Set(float64(knownBad))
}

var _ core.Instrumentation = (*PromInstrumentation)(nil)
