package operator

import (
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/l7mp/livequery/pkg/dependency"
	"github.com/l7mp/livequery/pkg/metrics"
)

// Options configures an operator.
type Options struct {
	// Name is an optional label used in logs, metrics and graph visualization.
	Name string
	// Logger is the base logger, defaults to a discarding logger.
	Logger logr.Logger
	// DependsOn lists the element property paths the user function reads, e.g., "$.spec.x".
	DependsOn []string
	// External lists properties of objects outside the source that the user function reads.
	External []dependency.External
	// Clock drives periodic operators and load timing, defaults to the real clock.
	Clock clock.WithTicker
	// Metrics records operator activity, may be nil.
	Metrics *metrics.Recorder
}

func (o Options) withDefaults() Options {
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// label returns the name used for metrics and logging.
func (o Options) label(kind string) string {
	if o.Name != "" {
		return o.Name
	}
	return kind
}
