package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaycore/smsqueue/internal/domain"
)

// MockQueueRepository is a hand-written, in-memory implementation of
// QueueRepository used in unit tests. It reproduces the CAS semantics of the
// pg implementation exactly, so concurrency-sensitive service tests exercise
// the same win/lose behaviour they would see against PostgreSQL.
type MockQueueRepository struct {
	mu      sync.Mutex
	entries map[string]*domain.QueueEntry

	// Optional error overrides — set in tests to simulate failure paths.
	CreateErr     error
	TransitionErr error
	LookupErr     error
}

func NewMockQueueRepository() *MockQueueRepository {
	return &MockQueueRepository{entries: make(map[string]*domain.QueueEntry)}
}

func (m *MockQueueRepository) Create(_ context.Context, e *domain.QueueEntry) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *MockQueueRepository) CreateMany(_ context.Context, entries []*domain.QueueEntry) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if err := m.insertLocked(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockQueueRepository) insertLocked(e *domain.QueueEntry) error {
	for _, existing := range m.entries {
		if existing.RecipientID == e.RecipientID &&
			existing.Channel == e.Channel &&
			existing.SequenceNumber == e.SequenceNumber {
			return domain.ErrDuplicateSequence
		}
	}
	clone := *e
	m.entries[e.ID] = &clone
	return nil
}

func (m *MockQueueRepository) GetByID(_ context.Context, id string) (*domain.QueueEntry, error) {
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (m *MockQueueRepository) NextPending(_ context.Context, recipientID, channel string) (*domain.QueueEntry, error) {
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *domain.QueueEntry
	for _, e := range m.entries {
		if e.RecipientID != recipientID || e.Channel != channel || e.Status != domain.StatusPending {
			continue
		}
		if next == nil || e.SequenceNumber < next.SequenceNumber {
			next = e
		}
	}
	if next == nil {
		return nil, nil
	}
	clone := *next
	return &clone, nil
}

func (m *MockQueueRepository) InFlight(_ context.Context, recipientID, channel string) (*domain.QueueEntry, error) {
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.RecipientID == recipientID && e.Channel == channel && e.Status == domain.StatusInFlight {
			clone := *e
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *MockQueueRepository) ByDispatchRef(_ context.Context, ref string) (*domain.QueueEntry, error) {
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.DispatchRef != nil && *e.DispatchRef == ref {
			clone := *e
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *MockQueueRepository) FindStalled(_ context.Context, now time.Time) ([]*domain.QueueEntry, error) {
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var stalled []*domain.QueueEntry
	for _, e := range m.entries {
		if e.Status != domain.StatusInFlight || e.DispatchedAt == nil {
			continue
		}
		if !e.StallDeadline().After(now) {
			clone := *e
			stalled = append(stalled, &clone)
		}
	}
	sort.Slice(stalled, func(i, j int) bool {
		return stalled[i].DispatchedAt.Before(*stalled[j].DispatchedAt)
	})
	return stalled, nil
}

func (m *MockQueueRepository) Transition(_ context.Context, id string, from, to domain.Status, f domain.TransitionFields) (bool, error) {
	if m.TransitionErr != nil {
		return false, m.TransitionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	if f.DispatchRef != nil {
		ref := *f.DispatchRef
		e.DispatchRef = &ref
	}
	if f.RetryCount != nil {
		e.RetryCount = *f.RetryCount
	}
	if f.LastError != nil {
		msg := *f.LastError
		e.LastError = &msg
	}
	if f.DispatchedAt != nil {
		t := *f.DispatchedAt
		e.DispatchedAt = &t
	}
	if f.ResolvedAt != nil {
		t := *f.ResolvedAt
		e.ResolvedAt = &t
	}
	return true, nil
}

func (m *MockQueueRepository) CancelAllPending(_ context.Context, recipientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for _, e := range m.entries {
		if e.RecipientID == recipientID && e.Status == domain.StatusPending {
			e.Status = domain.StatusCancelled
			e.ResolvedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *MockQueueRepository) ChannelStatus(_ context.Context, recipientID, channel string) (*domain.ChannelStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s domain.ChannelStatus
	for _, e := range m.entries {
		if e.RecipientID != recipientID || e.Channel != channel {
			continue
		}
		s.Total++
		switch e.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusInFlight:
			s.InFlight++
		case domain.StatusDelivered:
			s.Delivered++
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusCancelled:
			s.Cancelled++
		}
	}
	return &s, nil
}

func (m *MockQueueRepository) GlobalStatus(_ context.Context) (*domain.ChannelStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s domain.ChannelStatus
	for _, e := range m.entries {
		s.Total++
		switch e.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusInFlight:
			s.InFlight++
		case domain.StatusDelivered:
			s.Delivered++
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusCancelled:
			s.Cancelled++
		}
	}
	return &s, nil
}

func (m *MockQueueRepository) MaxSequence(_ context.Context, recipientID, channel string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, e := range m.entries {
		if e.RecipientID == recipientID && e.Channel == channel && e.SequenceNumber > max {
			max = e.SequenceNumber
		}
	}
	return max, nil
}
