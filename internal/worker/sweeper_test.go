package worker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/domain"
	"github.com/relaycore/smsqueue/internal/provider"
	"github.com/relaycore/smsqueue/internal/ratelimiter"
	"github.com/relaycore/smsqueue/internal/repository"
	"github.com/relaycore/smsqueue/internal/service"
	"github.com/relaycore/smsqueue/internal/worker"
)

type stubProvider struct {
	mu    sync.Mutex
	sends int
}

func (p *stubProvider) Send(_ context.Context, e *domain.QueueEntry) (*provider.SendResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends++
	return &provider.SendResponse{MessageRef: fmt.Sprintf("ref-%d", p.sends), Status: "queued"}, nil
}

func (p *stubProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sends
}

type fixture struct {
	repo       *repository.MockQueueRepository
	prov       *stubProvider
	dispatcher *service.Dispatcher
	reconciler *service.Reconciler
	sweeper    *worker.Sweeper
	maxRetries int
	swept      int
}

func newFixture(maxRetries int) *fixture {
	logger := zap.NewNop()
	repo := repository.NewMockQueueRepository()
	prov := &stubProvider{}
	classifier := service.NewClassifier(nil)
	canceller := service.NewCanceller(repo, logger, service.MetricHooks{})
	dispatcher := service.NewDispatcher(
		repo, prov, classifier, canceller, ratelimiter.New(10000), logger, service.MetricHooks{})
	reconciler := service.NewReconciler(repo, dispatcher, classifier, logger, service.MetricHooks{})

	f := &fixture{repo: repo, prov: prov, dispatcher: dispatcher, reconciler: reconciler}
	f.sweeper = worker.NewSweeper(repo, dispatcher, time.Minute, logger, func() { f.swept++ })

	// maxRetries is threaded through the seeded entries rather than a
	// service config; the fixture seeds the store directly.
	f.maxRetries = maxRetries
	return f
}

// seed creates pending entries for the key and dispatches the first one.
func (f *fixture) seed(t *testing.T, recipient, channel string, count int) []*domain.QueueEntry {
	t.Helper()
	ctx := context.Background()
	entries := make([]*domain.QueueEntry, count)
	for i := range entries {
		entries[i] = &domain.QueueEntry{
			ID:             fmt.Sprintf("%s-%s-%d", recipient, channel, i+1),
			RecipientID:    recipient,
			Channel:        channel,
			SequenceNumber: int64(i + 1),
			Body:           fmt.Sprintf("message %d", i+1),
			Status:         domain.StatusPending,
			MaxRetries:     f.maxRetries,
			TimeoutMinutes: 15,
			CreatedAt:      time.Now().UTC(),
		}
	}
	if err := f.repo.CreateMany(ctx, entries); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.dispatcher.DispatchNext(ctx, recipient, channel); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return entries
}

// backdate rewinds an in-flight entry's dispatch time so it reads as stalled.
func (f *fixture) backdate(t *testing.T, id string, age time.Duration) {
	t.Helper()
	past := time.Now().UTC().Add(-age)
	applied, err := f.repo.Transition(context.Background(), id,
		domain.StatusInFlight, domain.StatusInFlight,
		domain.TransitionFields{DispatchedAt: &past})
	if err != nil || !applied {
		t.Fatalf("backdate %s: applied=%v err=%v", id, applied, err)
	}
}

func (f *fixture) entry(t *testing.T, id string) *domain.QueueEntry {
	t.Helper()
	e, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	return e
}

func TestSweeper_RetriesStalledEntry(t *testing.T) {
	f := newFixture(3)
	entries := f.seed(t, "r1", "onboarding", 1)
	f.backdate(t, entries[0].ID, time.Hour)

	f.sweeper.Sweep(context.Background())

	e := f.entry(t, entries[0].ID)
	if e.Status != domain.StatusInFlight {
		t.Fatalf("expected stalled entry re-dispatched, got %s", e.Status)
	}
	if e.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", e.RetryCount)
	}
	if f.prov.sendCount() != 2 {
		t.Fatalf("expected 2 attempts, got %d", f.prov.sendCount())
	}
	if f.swept != 1 {
		t.Fatalf("expected 1 swept entry, got %d", f.swept)
	}
}

func TestSweeper_LeavesFreshEntriesAlone(t *testing.T) {
	f := newFixture(3)
	entries := f.seed(t, "r1", "onboarding", 1)

	f.sweeper.Sweep(context.Background())

	if got := f.entry(t, entries[0].ID).Status; got != domain.StatusInFlight {
		t.Fatalf("expected fresh in-flight entry untouched, got %s", got)
	}
	if f.prov.sendCount() != 1 {
		t.Fatalf("expected no extra sends, got %d", f.prov.sendCount())
	}
	if f.swept != 0 {
		t.Fatalf("expected nothing swept, got %d", f.swept)
	}
}

func TestSweeper_ExhaustedStallFailsAndAdvances(t *testing.T) {
	f := newFixture(0) // no retry budget
	entries := f.seed(t, "r1", "onboarding", 2)
	f.backdate(t, entries[0].ID, time.Hour)

	f.sweeper.Sweep(context.Background())

	if got := f.entry(t, entries[0].ID).Status; got != domain.StatusFailed {
		t.Fatalf("expected stalled entry failed, got %s", got)
	}
	// The next sequence number proceeds.
	if got := f.entry(t, entries[1].ID).Status; got != domain.StatusInFlight {
		t.Fatalf("expected next entry dispatched, got %s", got)
	}
}

func TestSweeper_LosesRaceToLateCallback(t *testing.T) {
	f := newFixture(3)
	entries := f.seed(t, "r1", "onboarding", 1)
	f.backdate(t, entries[0].ID, time.Hour)
	ctx := context.Background()

	// Snapshot the stalled set the way a sweep would, then let the real
	// callback land first.
	stalled, err := f.repo.FindStalled(ctx, time.Now().UTC())
	if err != nil || len(stalled) != 1 {
		t.Fatalf("find stalled: n=%d err=%v", len(stalled), err)
	}
	ref := f.entry(t, entries[0].ID).DispatchRef
	if err := f.reconciler.Reconcile(ctx, *ref, domain.OutcomeDelivered, "", ""); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// The sweep's resolution now loses the CAS and must change nothing.
	if err := f.dispatcher.ResolveFailure(ctx, stalled[0], service.FailureTransient, "no delivery confirmation within timeout"); err != nil {
		t.Fatalf("resolve failure: %v", err)
	}

	e := f.entry(t, entries[0].ID)
	if e.Status != domain.StatusDelivered {
		t.Fatalf("expected delivered to stand, got %s", e.Status)
	}
	if e.RetryCount != 0 {
		t.Fatalf("expected retry_count unchanged, got %d", e.RetryCount)
	}
}

func TestSweeper_ResolvesEachStallOnce(t *testing.T) {
	f := newFixture(3)
	a := f.seed(t, "r1", "onboarding", 1)
	b := f.seed(t, "r2", "daily", 1)
	f.backdate(t, a[0].ID, time.Hour)
	f.backdate(t, b[0].ID, 2*time.Hour)

	f.sweeper.Sweep(context.Background())

	if f.swept != 2 {
		t.Fatalf("expected 2 swept entries, got %d", f.swept)
	}
	for _, id := range []string{a[0].ID, b[0].ID} {
		if got := f.entry(t, id).RetryCount; got != 1 {
			t.Fatalf("entry %s: expected retry_count=1, got %d", id, got)
		}
	}
}
