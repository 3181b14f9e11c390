// Package metrics exports software bus housekeeping as Prometheus metrics.
// Values are read from a Stats snapshot on every scrape; nothing is cached.
package metrics

import (
	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/billm/baaaht/softbus/pkg/softbus"
	"github.com/prometheus/client_golang/prometheus"
)

// Source supplies bus statistics. *softbus.Bus satisfies it.
type Source interface {
	Stats() softbus.Stats
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(c softbus.Counters) uint64
}

type gaugeDesc struct {
	desc  *prometheus.Desc
	value func(s softbus.Stats) int
}

// Collector implements prometheus.Collector over a Source
type Collector struct {
	src      Source
	counters []counterDesc
	gauges   []gaugeDesc

	pipeQueued *prometheus.Desc
	pipePeak   *prometheus.Desc
	pipeDepth  *prometheus.Desc
}

// NewCollector creates a collector named by cfg's namespace and subsystem
func NewCollector(src Source, cfg config.MetricsConfig) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName(cfg.Namespace, cfg.Subsystem, n)
	}
	counter := func(n, help string, v func(c softbus.Counters) uint64) counterDesc {
		return counterDesc{desc: prometheus.NewDesc(name(n), help, nil, nil), value: v}
	}
	gauge := func(n, help string, v func(s softbus.Stats) int) gaugeDesc {
		return gaugeDesc{desc: prometheus.NewDesc(name(n), help, nil, nil), value: v}
	}
	pipeLabels := []string{"pipe", "name"}

	return &Collector{
		src: src,
		counters: []counterDesc{
			counter("commands_total", "Commands accepted.", func(c softbus.Counters) uint64 { return c.CommandCounter }),
			counter("command_errors_total", "Commands rejected.", func(c softbus.Counters) uint64 { return c.CommandErrorCounter }),
			counter("no_subscribers_total", "Messages sent with no subscriber.", func(c softbus.Counters) uint64 { return c.NoSubscribersCounter }),
			counter("send_errors_total", "Sends rejected.", func(c softbus.Counters) uint64 { return c.MsgSendErrorCounter }),
			counter("receive_errors_total", "Receives that failed.", func(c softbus.Counters) uint64 { return c.MsgReceiveErrorCounter }),
			counter("internal_errors_total", "Internal errors.", func(c softbus.Counters) uint64 { return c.InternalErrorCounter }),
			counter("create_pipe_errors_total", "Pipe creations that failed.", func(c softbus.Counters) uint64 { return c.CreatePipeErrorCounter }),
			counter("subscribe_errors_total", "Subscriptions that failed.", func(c softbus.Counters) uint64 { return c.SubscribeErrorCounter }),
			counter("pipe_overflows_total", "Deliveries dropped on a full pipe.", func(c softbus.Counters) uint64 { return c.PipeOverflowErrorCounter }),
			counter("msg_limit_errors_total", "Deliveries dropped at a subscription's message limit.", func(c softbus.Counters) uint64 { return c.MsgLimitErrorCounter }),
			counter("duplicate_subscriptions_total", "Subscriptions that already existed.", func(c softbus.Counters) uint64 { return c.DuplicateSubscriptionsCounter }),
		},
		gauges: []gaugeDesc{
			gauge("msg_ids_in_use", "Message IDs with a route.", func(s softbus.Stats) int { return s.MsgIDsInUse }),
			gauge("msg_ids_max", "Configured route capacity.", func(s softbus.Stats) int { return s.MaxMsgIDs }),
			gauge("pipes_in_use", "Pipes in use.", func(s softbus.Stats) int { return s.PipesInUse }),
			gauge("pipes_in_use_peak", "Most pipes ever in use.", func(s softbus.Stats) int { return s.PeakPipesInUse }),
			gauge("pipes_max", "Configured pipe capacity.", func(s softbus.Stats) int { return s.MaxPipes }),
			gauge("subscriptions_in_use", "Destinations across all routes.", func(s softbus.Stats) int { return s.SubscriptionsInUse }),
			gauge("subscriptions_in_use_peak", "Most destinations ever in use.", func(s softbus.Stats) int { return s.PeakSubscriptionsInUse }),
			gauge("buffers_in_use", "Message buffers held.", func(s softbus.Stats) int { return s.Pool.BufsInUse }),
			gauge("buffers_in_use_peak", "Most message buffers ever held.", func(s softbus.Stats) int { return s.Pool.PeakBufsInUse }),
			gauge("buffer_bytes_in_use", "Bytes of pool memory held.", func(s softbus.Stats) int { return s.Pool.MemInUse }),
			gauge("buffer_bytes_in_use_peak", "Most pool memory ever held.", func(s softbus.Stats) int { return s.Pool.PeakMemInUse }),
			gauge("zero_copy_buffers_in_use", "Buffers lent out for zero-copy sends.", func(s softbus.Stats) int { return s.Pool.ZeroCopyInUse }),
		},
		pipeQueued: prometheus.NewDesc(name("pipe_queued"), "Messages waiting on a pipe.", pipeLabels, nil),
		pipePeak:   prometheus.NewDesc(name("pipe_queued_peak"), "Most messages ever waiting on a pipe.", pipeLabels, nil),
		pipeDepth:  prometheus.NewDesc(name("pipe_depth"), "Capacity of a pipe.", pipeLabels, nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	for _, gd := range c.gauges {
		ch <- gd.desc
	}
	ch <- c.pipeQueued
	ch <- c.pipePeak
	ch <- c.pipeDepth
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(s.Counters)))
	}
	for _, gd := range c.gauges {
		ch <- prometheus.MustNewConstMetric(gd.desc, prometheus.GaugeValue, float64(gd.value(s)))
	}
	for _, p := range s.Pipes {
		id := p.Pipe.String()
		ch <- prometheus.MustNewConstMetric(c.pipeQueued, prometheus.GaugeValue, float64(p.Current), id, p.Name)
		ch <- prometheus.MustNewConstMetric(c.pipePeak, prometheus.GaugeValue, float64(p.Peak), id, p.Name)
		ch <- prometheus.MustNewConstMetric(c.pipeDepth, prometheus.GaugeValue, float64(p.Depth), id, p.Name)
	}
}

// NewRegistry returns a registry holding a collector for src
func NewRegistry(src Source, cfg config.MetricsConfig) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(src, cfg)); err != nil {
		return nil, err
	}
	return reg, nil
}

// WriteTextfile writes the current metrics in text exposition format to
// path, for pickup by a node exporter textfile collector
func WriteTextfile(path string, src Source, cfg config.MetricsConfig) error {
	reg, err := NewRegistry(src, cfg)
	if err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
