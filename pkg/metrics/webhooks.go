package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts ingest outcomes per payment provider.
type WebhookMetrics struct {
	received   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	rejected   *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook ingest metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received",
		Help: "Payment webhook events accepted for processing.",
	}, []string{"provider"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_duplicate",
		Help: "Payment webhook events acknowledged as duplicates.",
	}, []string{"provider"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_rejected",
		Help: "Payment webhook events rejected at the trust boundary.",
	}, []string{"provider", "reason"})
	reg.MustRegister(received, duplicates, rejected)
	return &WebhookMetrics{
		received:   received,
		duplicates: duplicates,
		rejected:   rejected,
	}
}

// IncReceived counts an accepted event for the provider.
func (w *WebhookMetrics) IncReceived(provider string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncDuplicate counts a duplicate delivery for the provider.
func (w *WebhookMetrics) IncDuplicate(provider string) {
	if w == nil || w.duplicates == nil {
		return
	}
	w.duplicates.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncRejected counts a rejected payload for the provider.
func (w *WebhookMetrics) IncRejected(provider, reason string) {
	if w == nil || w.rejected == nil {
		return
	}
	w.rejected.WithLabelValues(normalizeLabel(provider), normalizeLabel(reason)).Inc()
}
