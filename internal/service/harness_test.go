package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/relaycore/smsqueue/internal/domain"
	"github.com/relaycore/smsqueue/internal/provider"
	"github.com/relaycore/smsqueue/internal/ratelimiter"
	"github.com/relaycore/smsqueue/internal/repository"
	"github.com/relaycore/smsqueue/internal/service"
)

// permanentCode is the one gateway code the test classifier treats as
// recipient-level.
const permanentCode = "21610"

// stubProvider records every send and returns a fresh ref per attempt,
// like a real gateway would. Set fn to script rejections.
type stubProvider struct {
	mu    sync.Mutex
	sends []string // entry IDs in send order
	refs  []string
	fn    func(e *domain.QueueEntry) error
}

func (p *stubProvider) Send(_ context.Context, e *domain.QueueEntry) (*provider.SendResponse, error) {
	p.mu.Lock()
	p.sends = append(p.sends, e.ID)
	ref := fmt.Sprintf("ref-%d", len(p.sends))
	p.refs = append(p.refs, ref)
	fn := p.fn
	p.mu.Unlock()

	if fn != nil {
		if err := fn(e); err != nil {
			return nil, err
		}
	}
	return &provider.SendResponse{MessageRef: ref, Status: "queued"}, nil
}

func (p *stubProvider) sendCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sends)
}

func (p *stubProvider) sentIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sends...)
}

func (p *stubProvider) lastRef() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.refs) == 0 {
		return ""
	}
	return p.refs[len(p.refs)-1]
}

type harness struct {
	repo       *repository.MockQueueRepository
	prov       *stubProvider
	canceller  *service.Canceller
	dispatcher *service.Dispatcher
	reconciler *service.Reconciler
	svc        *service.QueueService
}

func newHarness() *harness {
	logger := zap.NewNop()
	repo := repository.NewMockQueueRepository()
	prov := &stubProvider{}
	classifier := service.NewClassifier([]string{permanentCode})
	canceller := service.NewCanceller(repo, logger, service.MetricHooks{})
	dispatcher := service.NewDispatcher(
		repo, prov, classifier, canceller, ratelimiter.New(10000), logger, service.MetricHooks{})
	reconciler := service.NewReconciler(repo, dispatcher, classifier, logger, service.MetricHooks{})
	svc := service.NewQueueService(repo, dispatcher, service.EntryDefaults{
		MaxRetries:     2,
		TimeoutMinutes: 15,
	}, logger, service.MetricHooks{})

	return &harness{
		repo: repo, prov: prov, canceller: canceller,
		dispatcher: dispatcher, reconciler: reconciler, svc: svc,
	}
}

func (h *harness) enqueue(t *testing.T, recipient, channel string, bodies ...string) []*domain.QueueEntry {
	t.Helper()
	req := domain.EnqueueRequest{}
	for _, b := range bodies {
		req.Messages = append(req.Messages, domain.MessagePayload{Body: b})
	}
	entries, err := h.svc.Enqueue(context.Background(), recipient, channel, req)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return entries
}

func (h *harness) entry(t *testing.T, id string) *domain.QueueEntry {
	t.Helper()
	e, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get entry %s: %v", id, err)
	}
	return e
}

func transientErr() error {
	return &provider.SendError{Code: "30001", Message: "queue overflow at provider"}
}

func permanentErr() error {
	return &provider.SendError{Code: permanentCode, Message: "recipient has opted out"}
}
