package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracerOnce sync.Once
	tracer     trace.Tracer
)

// Tracer returns the shared tracer for build-phase spans. It resolves
// against the global provider, so it is a no-op unless the embedding
// process installs an SDK.
func Tracer() trace.Tracer {
	tracerOnce.Do(func() {
		tracer = otel.Tracer("github.com/jward/trellis")
	})
	return tracer
}
