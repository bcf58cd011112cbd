package service_test

import (
	"context"
	"testing"

	"github.com/relaycore/smsqueue/internal/domain"
)

func TestReconciler_DeliveredAdvancesQueue(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	entries := h.enqueue(t, "r1", "onboarding", "one", "two", "three")
	refA := h.prov.lastRef()

	if err := h.reconciler.Reconcile(ctx, refA, domain.OutcomeDelivered, "", ""); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if got := h.entry(t, entries[0].ID).Status; got != domain.StatusDelivered {
		t.Fatalf("expected seq 1 delivered, got %s", got)
	}
	if got := h.entry(t, entries[1].ID).Status; got != domain.StatusInFlight {
		t.Fatalf("expected seq 2 dispatched automatically, got %s", got)
	}

	// Duplicate callback: same outcome, same ref. Must be a pure no-op and
	// must not trigger a second dispatch.
	sendsBefore := h.prov.sendCount()
	if err := h.reconciler.Reconcile(ctx, refA, domain.OutcomeDelivered, "", ""); err != nil {
		t.Fatalf("duplicate reconcile: %v", err)
	}
	if h.prov.sendCount() != sendsBefore {
		t.Fatal("duplicate callback triggered an extra dispatch")
	}
	if got := h.entry(t, entries[1].ID).Status; got != domain.StatusInFlight {
		t.Fatalf("expected seq 2 still the only in-flight entry, got %s", got)
	}
	if got := h.entry(t, entries[2].ID).Status; got != domain.StatusPending {
		t.Fatalf("expected seq 3 still pending, got %s", got)
	}
}

func TestReconciler_UnknownRefIsDiscarded(t *testing.T) {
	h := newHarness()
	entries := h.enqueue(t, "r1", "onboarding", "one")

	if err := h.reconciler.Reconcile(context.Background(), "ref-from-another-system", domain.OutcomeDelivered, "", ""); err != nil {
		t.Fatalf("expected unknown ref to be a no-op, got %v", err)
	}
	if got := h.entry(t, entries[0].ID).Status; got != domain.StatusInFlight {
		t.Fatalf("expected entry untouched, got %s", got)
	}
}

func TestReconciler_InformationalOutcomesIgnored(t *testing.T) {
	h := newHarness()
	entries := h.enqueue(t, "r1", "onboarding", "one")
	ref := h.prov.lastRef()
	ctx := context.Background()

	for _, o := range []domain.Outcome{domain.OutcomeQueued, domain.OutcomeSent} {
		if err := h.reconciler.Reconcile(ctx, ref, o, "", ""); err != nil {
			t.Fatalf("outcome %s: %v", o, err)
		}
	}
	if got := h.entry(t, entries[0].ID).Status; got != domain.StatusInFlight {
		t.Fatalf("expected entry still in_flight, got %s", got)
	}
}

func TestReconciler_InvalidOutcomeRejected(t *testing.T) {
	h := newHarness()
	h.enqueue(t, "r1", "onboarding", "one")

	err := h.reconciler.Reconcile(context.Background(), h.prov.lastRef(), "exploded", "", "")
	if err != domain.ErrInvalidOutcome {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestReconciler_TransientFailureRetries(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	entries := h.enqueue(t, "r1", "onboarding", "one")
	firstRef := h.prov.lastRef()

	if err := h.reconciler.Reconcile(ctx, firstRef, domain.OutcomeFailed, "30001", "carrier timeout"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	e := h.entry(t, entries[0].ID)
	if e.Status != domain.StatusInFlight {
		t.Fatalf("expected entry re-dispatched after transient failure, got %s", e.Status)
	}
	if e.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", e.RetryCount)
	}
	if h.prov.sendCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", h.prov.sendCount())
	}
	if ref := h.prov.lastRef(); e.DispatchRef == nil || *e.DispatchRef != ref {
		t.Fatalf("expected new dispatch ref %s recorded", ref)
	}
}

func TestReconciler_CallbackRetryBound(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	entries := h.enqueue(t, "r1", "onboarding", "one")

	// Fail every attempt via callback until the entry goes terminal.
	for i := 0; i < 3; i++ {
		if err := h.reconciler.Reconcile(ctx, h.prov.lastRef(), domain.OutcomeUndelivered, "30001", "carrier timeout"); err != nil {
			t.Fatalf("reconcile attempt %d: %v", i, err)
		}
	}

	e := h.entry(t, entries[0].ID)
	if e.Status != domain.StatusFailed {
		t.Fatalf("expected failed after retry budget, got %s", e.Status)
	}
	// Exactly maxRetries+1 attempts: the initial send plus two retries.
	if h.prov.sendCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", h.prov.sendCount())
	}

	// A straggler callback for the final ref finds the entry already
	// terminal; the CAS loses and nothing changes.
	if err := h.reconciler.Reconcile(ctx, h.prov.lastRef(), domain.OutcomeDelivered, "", ""); err != nil {
		t.Fatalf("straggler reconcile: %v", err)
	}
	if got := h.entry(t, entries[0].ID).Status; got != domain.StatusFailed {
		t.Fatalf("expected terminal status immutable, got %s", got)
	}
}

func TestReconciler_PermanentFailureCascadesAllChannels(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	onboarding := h.enqueue(t, "r1", "onboarding", "a1")
	refA := h.prov.lastRef()
	daily := h.enqueue(t, "r1", "daily", "b1", "b2")
	refB := h.prov.lastRef()

	if err := h.reconciler.Reconcile(ctx, refA, domain.OutcomeFailed, permanentCode, "recipient opted out"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if got := h.entry(t, onboarding[0].ID).Status; got != domain.StatusFailed {
		t.Fatalf("expected permanent failure terminal, got %s", got)
	}
	// Pending work on every channel is cancelled; the daily in-flight entry
	// completes its own resolution path.
	if got := h.entry(t, daily[1].ID).Status; got != domain.StatusCancelled {
		t.Fatalf("expected daily seq 2 cancelled, got %s", got)
	}
	if got := h.entry(t, daily[0].ID).Status; got != domain.StatusInFlight {
		t.Fatalf("expected daily in-flight entry untouched, got %s", got)
	}

	// When the in-flight entry resolves, nothing further is dispatched.
	sendsBefore := h.prov.sendCount()
	if err := h.reconciler.Reconcile(ctx, refB, domain.OutcomeDelivered, "", ""); err != nil {
		t.Fatalf("reconcile in-flight survivor: %v", err)
	}
	if h.prov.sendCount() != sendsBefore {
		t.Fatal("expected no dispatch for cancelled recipient")
	}
}
