package pipeline

import (
	"context"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// failures collects the recovered errors of one operation. Every error is
// logged and counted when added; the first is kept for strict mode.
type failures struct {
	first error
	count int
}

func (f *failures) add(ctx context.Context, err error) {
	if err == nil {
		return
	}
	class := string(engine.ClassOf(err))
	if class == "" {
		class = "unclassified"
	}
	telemetry.FromContext(ctx).WithError(err).WithField("class", class).Warn("recovered from error")
	telemetry.MetricsFromContext(ctx).RecordError(class)
	if f.first == nil {
		f.first = err
	}
	f.count++
}
