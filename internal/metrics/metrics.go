package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's counters. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	// Webhook deliveries by source and outcome
	WebhooksTotal *prometheus.CounterVec
	// Tokens minted, by reason (payment, renew)
	TokensIssuedTotal *prometheus.CounterVec
	// Redemption attempts by verdict message
	RedemptionsTotal *prometheus.CounterVec
	// Chat messages that could not be delivered
	NotificationFailuresTotal prometheus.Counter
	// Inbound chat events by transport
	ChatEventsTotal *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paygate_webhooks_total",
				Help: "Payment webhook deliveries by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		TokensIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paygate_tokens_issued_total",
				Help: "Access tokens minted",
			},
			[]string{"reason"},
		),

		RedemptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paygate_redemptions_total",
				Help: "Token redemption attempts by verdict",
			},
			[]string{"verdict"},
		),

		NotificationFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "paygate_notification_failures_total",
				Help: "Chat messages that failed to send",
			},
		),

		ChatEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paygate_chat_events_total",
				Help: "Inbound chat events by transport",
			},
			[]string{"transport"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Webhook(source, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) TokenIssued(reason string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Redemption(verdict string) {
	if m == nil {
		return
	}
	m.RedemptionsTotal.WithLabelValues(verdict).Inc()
}

func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.NotificationFailuresTotal.Inc()
}

func (m *Metrics) ChatEvent(transport string) {
	if m == nil {
		return
	}
	m.ChatEventsTotal.WithLabelValues(transport).Inc()
}
