package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts inbound gateway webhook outcomes.
type WebhookMetrics struct {
	results           *prometheus.CounterVec
	signatureFailures prometheus.Counter
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_webhook_events_total",
		Help: "Gateway webhook events by ingest result and event type.",
	}, []string{"result", "event_type"})
	signatureFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commission_webhook_signature_failures_total",
		Help: "Gateway webhooks rejected for a bad signature.",
	})
	reg.MustRegister(results, signatureFailures)
	return &WebhookMetrics{results: results, signatureFailures: signatureFailures}
}

// IncResult counts one ingested event.
func (m *WebhookMetrics) IncResult(result, eventType string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(result), normalizeLabel(eventType)).Inc()
}

// IncSignatureFailure counts one rejected signature.
func (m *WebhookMetrics) IncSignatureFailure() {
	if m == nil || m.signatureFailures == nil {
		return
	}
	m.signatureFailures.Inc()
}

// PayoutMetrics tracks batch creation and transfer attempts.
type PayoutMetrics struct {
	attempts       *prometheus.CounterVec
	batchesCreated prometheus.Counter
	batchesFailed  *prometheus.CounterVec
	opsAlerts      prometheus.Counter
}

// NewPayoutMetrics registers the payout metrics on the provided registerer.
func NewPayoutMetrics(reg prometheus.Registerer) *PayoutMetrics {
	if reg == nil {
		return &PayoutMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_payout_attempts_total",
		Help: "Gateway transfer attempts by outcome.",
	}, []string{"outcome"})
	created := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commission_payout_batches_created_total",
		Help: "Payout batches created.",
	})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commission_payout_batches_failed_total",
		Help: "Payout batches that ended failed, by failure kind.",
	}, []string{"kind"})
	alerts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commission_payout_ops_alerts_total",
		Help: "Operator alerts raised for payouts that need attention.",
	})
	reg.MustRegister(attempts, created, failed, alerts)
	return &PayoutMetrics{
		attempts:       attempts,
		batchesCreated: created,
		batchesFailed:  failed,
		opsAlerts:      alerts,
	}
}

func (m *PayoutMetrics) IncAttempt(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *PayoutMetrics) AddBatchesCreated(n int) {
	if m == nil || m.batchesCreated == nil || n <= 0 {
		return
	}
	m.batchesCreated.Add(float64(n))
}

func (m *PayoutMetrics) IncBatchFailed(kind string) {
	if m == nil || m.batchesFailed == nil {
		return
	}
	m.batchesFailed.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *PayoutMetrics) IncOpsAlert() {
	if m == nil || m.opsAlerts == nil {
		return
	}
	m.opsAlerts.Inc()
}

// SweepMetrics tracks escrow sweep claims.
type SweepMetrics struct {
	claimed    prometheus.Counter
	lostClaims prometheus.Counter
	rolledBack prometheus.Counter
	staleReset prometheus.Counter
}

// NewSweepMetrics registers the escrow sweep metrics on the provided registerer.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	if reg == nil {
		return &SweepMetrics{}
	}
	m := &SweepMetrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_sweep_entries_claimed_total",
			Help: "Ledger entries claimed for payout by the escrow sweep.",
		}),
		lostClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_sweep_claims_lost_total",
			Help: "Ledger entries skipped because another claimer won.",
		}),
		rolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_sweep_claims_rolled_back_total",
			Help: "Claimed entries returned to escrow after batch creation failed.",
		}),
		staleReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_sweep_stale_claims_reset_total",
			Help: "Stale claims returned to escrow by recovery.",
		}),
	}
	reg.MustRegister(m.claimed, m.lostClaims, m.rolledBack, m.staleReset)
	return m
}

func (m *SweepMetrics) AddClaimed(n int) {
	if m == nil {
		return
	}
	addCount(m.claimed, n)
}

func (m *SweepMetrics) AddLostClaims(n int) {
	if m == nil {
		return
	}
	addCount(m.lostClaims, n)
}

func (m *SweepMetrics) AddRolledBack(n int) {
	if m == nil {
		return
	}
	addCount(m.rolledBack, n)
}

func (m *SweepMetrics) AddStaleReset(n int) {
	if m == nil {
		return
	}
	addCount(m.staleReset, n)
}

// NotificationMetrics tracks the seller notification dispatcher.
type NotificationMetrics struct {
	persisted prometheus.Counter
	dropped   *prometheus.CounterVec
	reaped    prometheus.Counter
}

// NewNotificationMetrics registers the notification metrics on the provided registerer.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	m := &NotificationMetrics{
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_notifications_persisted_total",
			Help: "Seller notifications stored.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_notifications_dropped_total",
			Help: "Seller notifications dropped, by reason.",
		}, []string{"reason"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_notifications_reaped_total",
			Help: "Expired seller notifications deleted by the reaper.",
		}),
	}
	reg.MustRegister(m.persisted, m.dropped, m.reaped)
	return m
}

func (m *NotificationMetrics) IncPersisted() {
	if m == nil {
		return
	}
	addCount(m.persisted, 1)
}

func (m *NotificationMetrics) IncDropped(reason string) {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *NotificationMetrics) AddReaped(n int64) {
	if m == nil {
		return
	}
	addCount(m.reaped, int(n))
}

func addCount(c prometheus.Counter, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Add(float64(n))
}
