package openeth

import (
	"github.com/rcrowley/go-metrics"
)

// driverMetrics are the drop and traffic counters of one driver instance.
type driverMetrics struct {
	rxFrames   metrics.Counter
	rxBytes    metrics.Counter
	rxOverrun  metrics.Counter
	rxErrors   metrics.Counter
	rxOverflow metrics.Counter
	rxEmpty    metrics.Counter

	txFrames metrics.Counter
	txBytes  metrics.Counter
	txBusy   metrics.Counter
}

func newDriverMetrics(r metrics.Registry) *driverMetrics {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	return &driverMetrics{
		rxFrames:   metrics.GetOrRegisterCounter("openeth.rx.frames", r),
		rxBytes:    metrics.GetOrRegisterCounter("openeth.rx.bytes", r),
		rxOverrun:  metrics.GetOrRegisterCounter("openeth.rx.dropped.overrun", r),
		rxErrors:   metrics.GetOrRegisterCounter("openeth.rx.errors", r),
		rxOverflow: metrics.GetOrRegisterCounter("openeth.rx.dropped.length", r),
		rxEmpty:    metrics.GetOrRegisterCounter("openeth.rx.dropped.empty", r),

		txFrames: metrics.GetOrRegisterCounter("openeth.tx.frames", r),
		txBytes:  metrics.GetOrRegisterCounter("openeth.tx.bytes", r),
		txBusy:   metrics.GetOrRegisterCounter("openeth.tx.busy", r),
	}
}
