package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	graphite "github.com/cyberdelia/go-metrics-graphite"
	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/config"
)

// startStats validates the stats config and returns a function that starts
// the exporter, or nil when stats are disabled. The function blocks until ctx
// is done.
func startStats(l *logrus.Logger, c *config.C, reg metrics.Registry, buildVersion string) (func(context.Context), error) {
	mType := c.GetString("stats.type", "")
	if mType == "" || mType == "none" {
		return nil, nil
	}

	interval := c.GetDuration("stats.interval", 0)
	if interval == 0 {
		return nil, fmt.Errorf("stats.interval was an invalid duration: %s", c.GetString("stats.interval", ""))
	}

	var start func(context.Context)
	var err error
	switch mType {
	case "graphite":
		start, err = startGraphiteStats(l, interval, c, reg)
	case "prometheus":
		start, err = startPrometheusStats(l, interval, c, reg, buildVersion)
	default:
		return nil, fmt.Errorf("stats.type was not understood: %s", mType)
	}
	if err != nil {
		return nil, err
	}

	metrics.RegisterDebugGCStats(reg)
	metrics.RegisterRuntimeMemStats(reg)

	return func(ctx context.Context) {
		go metrics.CaptureDebugGCStats(reg, interval)
		go metrics.CaptureRuntimeMemStats(reg, interval)
		start(ctx)
	}, nil
}

func startGraphiteStats(l *logrus.Logger, i time.Duration, c *config.C, reg metrics.Registry) (func(context.Context), error) {
	proto := c.GetString("stats.protocol", "tcp")
	host := c.GetString("stats.host", "")
	if host == "" {
		return nil, errors.New("stats.host can not be empty")
	}

	prefix := c.GetString("stats.prefix", "openeth")
	addr, err := net.ResolveTCPAddr(proto, host)
	if err != nil {
		return nil, fmt.Errorf("error while setting up graphite sink: %s", err)
	}

	return func(context.Context) {
		l.Infof("Starting graphite. Interval: %s, prefix: %s, addr: %s", i, prefix, addr)
		graphite.Graphite(reg, i, prefix, addr)
	}, nil
}

func startPrometheusStats(l *logrus.Logger, i time.Duration, c *config.C, reg metrics.Registry, buildVersion string) (func(context.Context), error) {
	namespace := c.GetString("stats.namespace", "")
	subsystem := c.GetString("stats.subsystem", "")

	listen := c.GetString("stats.listen", "")
	if listen == "" {
		return nil, fmt.Errorf("stats.listen should not be empty")
	}

	path := c.GetString("stats.path", "")
	if path == "" {
		return nil, fmt.Errorf("stats.path should not be empty")
	}

	pr := prometheus.NewRegistry()
	pClient := mp.NewPrometheusProvider(reg, namespace, subsystem, pr, i)

	// Export our version information as labels on a static gauge
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "info",
		Help:      "Version information for the openeth binary",
		ConstLabels: prometheus.Labels{
			"version":   buildVersion,
			"goversion": runtime.Version(),
		},
	})
	pr.MustRegister(g)
	g.Set(1)

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{ErrorLog: l}))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	return func(ctx context.Context) {
		go pClient.UpdatePrometheusMetrics()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()

		l.Infof("Prometheus stats listening on %s at %s", listen, path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Error("Prometheus stats listener failed")
		}
	}, nil
}
