package core

import "time"

// Instrumentation is the narrow seam the core calls into for ambient
// metrics (§1 "metrics" is an external collaborator). core never imports
// prometheus directly; node/metrics.go implements this against
// prometheus/client_golang.
type Instrumentation interface {
	IncSubmitted()
	IncValidated(sequence JointSequence)
	IncStabilized()
	ObserveStableMCI(mci int64)
	ObserveStabilityLag(d time.Duration)
	SetCacheSize(normal, unhandled, knownBad int)
}

// NoopInstrumentation discards every call; used when the wiring layer does
// not supply a concrete Instrumentation (e.g. in unit tests).
type NoopInstrumentation struct{}

func (NoopInstrumentation) IncSubmitted()                                {}
func (NoopInstrumentation) IncValidated(JointSequence)                   {}
func (NoopInstrumentation) IncStabilized()                               {}
func (NoopInstrumentation) ObserveStableMCI(int64)                       {}
func (NoopInstrumentation) ObserveStabilityLag(time.Duration)            {}
func (NoopInstrumentation) SetCacheSize(normal, unhandled, knownBad int) {}
