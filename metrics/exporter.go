package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hearth"

// Exporter publishes a Collector's snapshot on a private Prometheus
// registry. Values are read from Snapshot at scrape time.
type Exporter struct {
	collector *Collector
	registry  *prometheus.Registry

	launches        *prometheus.Desc
	foregroundExits *prometheus.Desc
	serviceExits    *prometheus.Desc
	essentialLosses *prometheus.Desc
	poolSize        *prometheus.Desc
	eventsReceived  *prometheus.Desc
	eventsSent      *prometheus.Desc
	eventsFiltered  *prometheus.Desc
	replies         *prometheus.Desc
}

// NewExporter registers c on a fresh registry.
func NewExporter(c *Collector) *Exporter {
	constLabels := prometheus.Labels{"session_id": c.Snapshot().SessionID}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	e := &Exporter{
		collector:       c,
		registry:        prometheus.NewRegistry(),
		launches:        desc("foreground_launches_total", "Foreground launch attempts by result", "result"),
		foregroundExits: desc("foreground_exits_total", "Foreground process exits"),
		serviceExits:    desc("service_exits_total", "Pooled service exits", "pool"),
		essentialLosses: desc("essential_losses_total", "Essential service exits"),
		poolSize:        desc("pool_size", "Current pool membership", "pool"),
		eventsReceived:  desc("events_received_total", "Events read from children", "source"),
		eventsSent:      desc("events_sent_total", "Events delivered to children", "source"),
		eventsFiltered:  desc("events_filtered_total", "Events dropped by permission filters", "reason"),
		replies:         desc("filter_replies_total", "Denial replies synthesized by permission filters"),
	}
	e.registry.MustRegister(e)
	return e
}

// Registry returns the private registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.launches, e.foregroundExits, e.serviceExits, e.essentialLosses,
		e.poolSize, e.eventsReceived, e.eventsSent, e.eventsFiltered, e.replies,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.collector.Snapshot()
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(e.launches, s.LaunchSuccess, "success")
	counter(e.launches, s.LaunchFailure, "failure")
	counter(e.foregroundExits, s.ForegroundExits)
	counter(e.essentialLosses, s.EssentialLosses)
	counter(e.replies, s.Replies)
	for pool, v := range s.ServiceExits {
		counter(e.serviceExits, v, pool)
	}
	for pool, v := range s.PoolSize {
		ch <- prometheus.MustNewConstMetric(e.poolSize, prometheus.GaugeValue, float64(v), pool)
	}
	for source, v := range s.EventsReceived {
		counter(e.eventsReceived, v, source)
	}
	for source, v := range s.EventsSent {
		counter(e.eventsSent, v, source)
	}
	for reason, v := range s.FilteredByReason {
		counter(e.eventsFiltered, v, reason)
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
