package monitoring

import (
	"camlink/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Rendezvous metrics
	announcementsTotal     *prometheus.CounterVec
	announcementsThrottled prometheus.Counter
	sessionsPending        prometheus.Gauge
	matchesTotal           prometheus.Counter
	sessionsExpiredTotal   prometheus.Counter
	decodeErrorsTotal      prometheus.Counter

	// Relay metrics
	relayMappings         prometheus.Gauge
	relayForwardedPackets prometheus.Counter
	relayForwardedBytes   prometheus.Counter
	relayDroppedPackets   prometheus.Counter
	relaySessionsExpired  prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		announcementsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "camlink_announcements_total",
			Help: "Total number of peer announcements received",
		}, []string{"role", "port_type"}),

		announcementsThrottled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_announcements_throttled_total",
			Help: "Total number of announcements dropped by rate limiting",
		}),

		sessionsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "camlink_sessions_pending",
			Help: "Number of sessions waiting for both peers to register",
		}),

		matchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_matches_total",
			Help: "Total number of completed session matches",
		}),

		sessionsExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_sessions_expired_total",
			Help: "Total number of pending sessions dropped by the sweeper",
		}),

		decodeErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_decode_errors_total",
			Help: "Total number of datagrams that failed to decode",
		}),

		relayMappings: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "camlink_relay_mappings",
			Help: "Number of installed relay forwarding directions",
		}),

		relayForwardedPackets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_relay_forwarded_packets_total",
			Help: "Total number of packets forwarded by the relay",
		}),

		relayForwardedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_relay_forwarded_bytes_total",
			Help: "Total number of payload bytes forwarded by the relay",
		}),

		relayDroppedPackets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_relay_dropped_packets_total",
			Help: "Total number of packets dropped for lack of a mapping",
		}),

		relaySessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "camlink_relay_sessions_expired_total",
			Help: "Total number of relay sessions expired by the sweeper",
		}),
	}
}

func (p *PrometheusCollector) RecordAnnouncement(role protocol.Role, portType protocol.PortType) {
	p.announcementsTotal.WithLabelValues(string(role), string(portType)).Inc()
}

func (p *PrometheusCollector) RecordAnnouncementThrottled() {
	p.announcementsThrottled.Inc()
}

func (p *PrometheusCollector) SetSessionsPending(n int) {
	p.sessionsPending.Set(float64(n))
}

func (p *PrometheusCollector) RecordMatch() {
	p.matchesTotal.Inc()
}

func (p *PrometheusCollector) RecordSessionsExpired(n int) {
	p.sessionsExpiredTotal.Add(float64(n))
}

func (p *PrometheusCollector) RecordDecodeError() {
	p.decodeErrorsTotal.Inc()
}

func (p *PrometheusCollector) SetRelayMappings(n int) {
	p.relayMappings.Set(float64(n))
}

func (p *PrometheusCollector) RecordRelayForwarded(bytes int) {
	p.relayForwardedPackets.Inc()
	p.relayForwardedBytes.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordRelayDropped() {
	p.relayDroppedPackets.Inc()
}

func (p *PrometheusCollector) RecordRelaySessionsExpired(n int) {
	p.relaySessionsExpired.Add(float64(n))
}
