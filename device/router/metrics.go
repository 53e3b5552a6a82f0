package router

import (
	"github.com/prometheus/client_golang/prometheus"
)

type routerCollector struct {
	r *Router

	frames       *prometheus.Desc
	recordErrors *prometheus.Desc
	relay        *prometheus.Desc
	relayQueue   *prometheus.Desc

	streamBytes    *prometheus.Desc
	streamFrames   *prometheus.Desc
	streamDropped  *prometheus.Desc
	streamTimeouts *prometheus.Desc
	streamErrors   *prometheus.Desc
	connected      *prometheus.Desc
}

// NewCollector returns a prometheus.Collector exporting the router counters
// and the stream counters of every registered transport. Values are read at
// scrape time.
func NewCollector(r *Router) prometheus.Collector {
	transportLabel := []string{"transport"}
	return &routerCollector{
		r: r,
		frames: prometheus.NewDesc(
			"mip_router_frames_total",
			"Frames received from all transports, by catalog outcome",
			[]string{"outcome"}, nil,
		),
		recordErrors: prometheus.NewDesc(
			"mip_router_record_errors_total",
			"Known records whose fields failed to decode",
			nil, nil,
		),
		relay: prometheus.NewDesc(
			"mip_router_relay_total",
			"Relay attempts by result",
			[]string{"result"}, nil,
		),
		relayQueue: prometheus.NewDesc(
			"mip_router_relay_queue_length",
			"Frames waiting to be relayed",
			nil, nil,
		),
		streamBytes: prometheus.NewDesc(
			"mip_stream_bytes_total",
			"Bytes read from the transport",
			transportLabel, nil,
		),
		streamFrames: prometheus.NewDesc(
			"mip_stream_frames_total",
			"Candidate frames that passed checksum and structure checks",
			transportLabel, nil,
		),
		streamDropped: prometheus.NewDesc(
			"mip_stream_dropped_total",
			"Candidate frames discarded, by reason",
			[]string{"transport", "reason"}, nil,
		),
		streamTimeouts: prometheus.NewDesc(
			"mip_stream_read_timeouts_total",
			"Reads that returned no data before the timeout",
			transportLabel, nil,
		),
		streamErrors: prometheus.NewDesc(
			"mip_stream_read_errors_total",
			"Reads that failed with an error",
			transportLabel, nil,
		),
		connected: prometheus.NewDesc(
			"mip_transport_connected",
			"1 if the transport is connected, otherwise 0",
			transportLabel, nil,
		),
	}
}

func (c *routerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.frames
	ch <- c.recordErrors
	ch <- c.relay
	ch <- c.relayQueue
	ch <- c.streamBytes
	ch <- c.streamFrames
	ch <- c.streamDropped
	ch <- c.streamTimeouts
	ch <- c.streamErrors
	ch <- c.connected
}

func (c *routerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.r.Counters()
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Recognized), "recognized")
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Unrecognized), "unrecognized")
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Duplicates), "duplicate")
	ch <- prometheus.MustNewConstMetric(c.recordErrors, prometheus.CounterValue, float64(s.RecordErrors))
	ch <- prometheus.MustNewConstMetric(c.relay, prometheus.CounterValue, float64(s.RelaySent), "sent")
	ch <- prometheus.MustNewConstMetric(c.relay, prometheus.CounterValue, float64(s.RelayErrors), "error")
	ch <- prometheus.MustNewConstMetric(c.relay, prometheus.CounterValue, float64(s.RelayDropped), "dropped")
	ch <- prometheus.MustNewConstMetric(c.relayQueue, prometheus.GaugeValue, float64(c.r.QueueLen()))

	for _, t := range c.r.Transports() {
		name := t.Name()
		st := t.Stats()
		ch <- prometheus.MustNewConstMetric(c.streamBytes, prometheus.CounterValue, float64(st.BytesRead), name)
		ch <- prometheus.MustNewConstMetric(c.streamFrames, prometheus.CounterValue, float64(st.FramesDecoded), name)
		ch <- prometheus.MustNewConstMetric(c.streamDropped, prometheus.CounterValue, float64(st.ChecksumFailures), name, "checksum")
		ch <- prometheus.MustNewConstMetric(c.streamDropped, prometheus.CounterValue, float64(st.StructuralFailures), name, "structure")
		ch <- prometheus.MustNewConstMetric(c.streamTimeouts, prometheus.CounterValue, float64(st.Timeouts), name)
		ch <- prometheus.MustNewConstMetric(c.streamErrors, prometheus.CounterValue, float64(st.ReadErrors), name)

		var connected float64
		if t.IsConnected() {
			connected = 1
		}
		ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected, name)
	}
}
