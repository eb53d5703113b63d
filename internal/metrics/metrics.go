package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxctl/voxctl/internal/event"
	"github.com/voxctl/voxctl/internal/session"
)

// SessionCounter exposes session counts grouped by lifecycle state.
type SessionCounter interface {
	CountByState() map[session.State]int
}

// EventSource exposes the audit event store for scrape-time queries.
type EventSource interface {
	Stats() event.Stats
	Query(event.Filter) []event.Event
}

// Collector is a prometheus.Collector that gathers voxctl metrics at scrape time.
type Collector struct {
	sessions  SessionCounter
	events    EventSource
	startTime time.Time

	// Metric descriptors.
	sessionsDesc       *prometheus.Desc
	activeCallsDesc    *prometheus.Desc
	eventsStoredDesc   *prometheus.Desc
	eventCapacityDesc  *prometheus.Desc
	callsEndedDesc     *prometheus.Desc
	providerEventsDesc *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(sessions SessionCounter, events EventSource, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		events:    events,
		startTime: startTime,

		sessionsDesc: prometheus.NewDesc(
			"voxctl_sessions",
			"Sessions in the registry by lifecycle state",
			[]string{"state"}, nil,
		),
		activeCallsDesc: prometheus.NewDesc(
			"voxctl_active_calls",
			"Number of sessions that have not ended",
			nil, nil,
		),
		eventsStoredDesc: prometheus.NewDesc(
			"voxctl_events_stored",
			"Audit events currently held in the in-memory store",
			nil, nil,
		),
		eventCapacityDesc: prometheus.NewDesc(
			"voxctl_event_store_capacity",
			"Configured audit event retention limit",
			nil, nil,
		),
		callsEndedDesc: prometheus.NewDesc(
			"voxctl_calls_ended_total",
			"Calls ended by reason, within the retained event window",
			[]string{"reason"}, nil,
		),
		providerEventsDesc: prometheus.NewDesc(
			"voxctl_provider_events_total",
			"Provider fault events by category, within the retained event window",
			[]string{"category"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voxctl_uptime_seconds",
			"Seconds since the voxctl process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.activeCallsDesc
	ch <- c.eventsStoredDesc
	ch <- c.eventCapacityDesc
	ch <- c.callsEndedDesc
	ch <- c.providerEventsDesc
	ch <- c.uptimeDesc
}

// allStates is the fixed label set, so series do not come and go with
// registry contents.
var allStates = []session.State{
	session.StateCreated,
	session.StateDialing,
	session.StateRinging,
	session.StateInboundRinging,
	session.StateConnected,
	session.StateEnding,
	session.StateEnded,
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	// Session gauges.
	if c.sessions != nil {
		counts := c.sessions.CountByState()
		active := 0
		for _, st := range allStates {
			n := counts[st]
			if !st.Terminal() {
				active += n
			}
			ch <- prometheus.MustNewConstMetric(
				c.sessionsDesc, prometheus.GaugeValue,
				float64(n), string(st),
			)
		}
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(active),
		)
	}

	// Event store fill level and windowed call outcome counters.
	if c.events != nil {
		stats := c.events.Stats()
		ch <- prometheus.MustNewConstMetric(
			c.eventsStoredDesc, prometheus.GaugeValue,
			float64(stats.TotalEvents),
		)
		ch <- prometheus.MustNewConstMetric(
			c.eventCapacityDesc, prometheus.GaugeValue,
			float64(stats.MaxEvents),
		)

		ended := c.events.Query(event.Filter{EventType: event.TypeCallEnded})
		for reason, n := range countPayloadValues(ended, "reason") {
			ch <- prometheus.MustNewConstMetric(
				c.callsEndedDesc, prometheus.CounterValue,
				float64(n), reason,
			)
		}

		faults := c.events.Query(event.Filter{EventType: event.TypeProviderEvent})
		for category, n := range countPayloadValues(faults, "category") {
			ch <- prometheus.MustNewConstMetric(
				c.providerEventsDesc, prometheus.CounterValue,
				float64(n), category,
			)
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// countPayloadValues groups events by the string value at the given
// payload key. Events without the key are skipped.
func countPayloadValues(evs []event.Event, key string) map[string]int {
	counts := make(map[string]int)
	for _, ev := range evs {
		if v, ok := ev.Payload[key].(string); ok && v != "" {
			counts[v]++
		}
	}
	return counts
}
