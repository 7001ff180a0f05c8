package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jcmexdev/inventory-sagas/internal/order-service/domain"
	"github.com/jcmexdev/inventory-sagas/internal/pkg/reservation"
)

type memOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	seq       map[string]int
	next      int
	createErr error
	updateErr error
	attempts  []domain.ReservationAttempt
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]domain.Order{}, seq: map[string]int{}}
}

func (m *memOrders) Create(_ context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.orders[o.ID] = o
	m.next++
	m.seq[o.ID] = m.next
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *memOrders) List(context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(domain.Order) bool { return true }), nil
}

func (m *memOrders) ListPending(_ context.Context, olderThan time.Time, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(func(o domain.Order) bool {
		return o.Status == domain.StatusPending && !o.CreatedAt.After(olderThan)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) sorted(keep func(domain.Order) bool) []domain.Order {
	var out []domain.Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.seq[out[i].ID] < m.seq[out[j].ID]
	})
	return out
}

func (m *memOrders) TransitionStatus(_ context.Context, id string, from, to domain.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != from {
		return domain.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = at
	m.orders[id] = o
	return nil
}

func (m *memOrders) DeleteIfStatus(_ context.Context, id string, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != status {
		return domain.ErrStatusConflict
	}
	delete(m.orders, id)
	return nil
}

func (m *memOrders) SaveAttempt(_ context.Context, a domain.ReservationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memOrders) ListAttempts(_ context.Context, orderID string) ([]domain.ReservationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReservationAttempt
	for _, a := range m.attempts {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memOrders) status(id string) (domain.OrderStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o.Status, ok
}

// funcReserver answers every ReserveWithRetry call with fn.
type funcReserver struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req reservation.Request) (reservation.Result, error)
	calls []reservation.Request
}

func (f *funcReserver) ReserveWithRetry(ctx context.Context, req reservation.Request) (reservation.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *funcReserver) Calls() []reservation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reservation.Request(nil), f.calls...)
}

func answer(err error) *funcReserver {
	return &funcReserver{fn: func(context.Context, reservation.Request) (reservation.Result, error) {
		if err != nil {
			return reservation.Result{}, err
		}
		return reservation.Result{Payload: reservation.Payload{Success: true}}, nil
	}}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderStatusChanged
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if evt, ok := payload.(domain.OrderStatusChanged); ok {
		p.events = append(p.events, evt)
	}
	return p.err
}

func (p *recordingPublisher) transitions() []domain.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderStatus, len(p.events))
	for i, e := range p.events {
		out[i] = e.To
	}
	return out
}

type fakeLease struct {
	held     bool
	err      error
	released int
}

func (l *fakeLease) Acquire(context.Context) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	return !l.held, nil
}

func (l *fakeLease) Release(context.Context) error {
	l.released++
	return nil
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

var errUnreachable = errors.New("dial tcp: connection refused")

// manualClock is advanced by tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock {
	return &manualClock{now: t}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
