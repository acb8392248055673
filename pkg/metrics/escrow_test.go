package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestWebhookMetricsCountsResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)
	m.IncResult("accepted", "charge.success")
	m.IncResult("accepted", "charge.success")
	m.IncResult("duplicate", "")
	m.IncSignatureFailure()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "commission_webhook_events_total", "event_type", "charge.success"); err != nil {
		t.Fatalf("fetch results: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 accepted charges, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "commission_webhook_events_total", "event_type", "unknown"); err != nil {
		t.Fatalf("fetch unlabeled: %v", err)
	} else if got != 1 {
		t.Fatalf("expected empty label normalized, got %f", got)
	}
	if got := plainCounter(mfs, "commission_webhook_signature_failures_total"); got != 1 {
		t.Fatalf("expected 1 signature failure, got %f", got)
	}
}

func TestPayoutAndSweepMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	payouts := NewPayoutMetrics(reg)
	sweep := NewSweepMetrics(reg)

	payouts.IncAttempt("transient")
	payouts.AddBatchesCreated(3)
	payouts.AddBatchesCreated(0)
	payouts.IncBatchFailed("transient_exhausted")
	payouts.IncOpsAlert()
	sweep.AddClaimed(5)
	sweep.AddLostClaims(1)
	sweep.AddRolledBack(-2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "commission_payout_attempts_total", "outcome", "transient"); err != nil || got != 1 {
		t.Fatalf("expected transient attempt=1, got %f (%v)", got, err)
	}
	if got := plainCounter(mfs, "commission_payout_batches_created_total"); got != 3 {
		t.Fatalf("expected 3 batches, got %f", got)
	}
	if got := plainCounter(mfs, "commission_sweep_entries_claimed_total"); got != 5 {
		t.Fatalf("expected 5 claims, got %f", got)
	}
	if got := plainCounter(mfs, "commission_sweep_claims_rolled_back_total"); got != 0 {
		t.Fatalf("negative adds must be ignored, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var webhooks *WebhookMetrics
	var payouts *PayoutMetrics
	var sweep *SweepMetrics
	var notifications *NotificationMetrics

	webhooks.IncResult("accepted", "charge.success")
	payouts.IncOpsAlert()
	sweep.AddClaimed(1)
	notifications.IncDropped("queue_full")
	notifications.AddReaped(4)

	unregistered := NewNotificationMetrics(nil)
	unregistered.IncPersisted()
}

func plainCounter(mfs []*dto.MetricFamily, name string) float64 {
	mf := findMetricFamily(mfs, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	return mf.GetMetric()[0].GetCounter().GetValue()
}
