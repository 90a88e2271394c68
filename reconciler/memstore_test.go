package reconciler_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/repository"
)

// memStore is an in-memory repository.Store with the transactional, locking
// and uniqueness behaviour the reconciler relies on from Postgres. By default
// transactions run one at a time; concurrent() lets them overlap, with reads
// seeing committed rows plus the transaction's own writes.
type memStore struct {
	shared *memShared
	tx     *memTx
}

type memShared struct {
	mu     sync.Mutex
	state  *memState
	locks  map[string]*sync.Mutex
	serial sync.Mutex
	// overlap disables the serial mutex.
	overlap bool

	aux sync.Mutex
	// conflicts makes the next N payment writes fail with ErrConflict.
	conflicts int
	clock     time.Time

	// onLockWait runs when a transaction is about to block on a held lock.
	onLockWait func(key string)
	// onFindDeferred runs at the start of every FindDeferred call.
	onFindDeferred func()
}

type memState struct {
	payments map[uuid.UUID]models.Payment
	events   map[string]models.WebhookEvent
}

type memTx struct {
	state         *memState
	dirtyPayments map[uuid.UUID]bool
	dirtyEvents   map[string]bool
	claimed       map[string]bool
	held          map[string]*sync.Mutex
}

func newMemStore() *memStore {
	st := &memState{payments: map[uuid.UUID]models.Payment{}, events: map[string]models.WebhookEvent{}}
	return &memStore{
		shared: &memShared{
			state: st,
			locks: map[string]*sync.Mutex{},
			clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func (s *memStore) concurrent() *memStore {
	s.shared.overlap = true
	return s
}

func (s *memState) clone() *memState {
	c := &memState{
		payments: make(map[uuid.UUID]models.Payment, len(s.payments)),
		events:   make(map[string]models.WebhookEvent, len(s.events)),
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

func (s *memStore) Payments() repository.PaymentRepository { return memPayments{s} }
func (s *memStore) Events() repository.EventRepository     { return memEvents{s} }
func (s *memStore) Products() repository.ProductRepository { return nil }

func (s *memStore) WithinTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	if !s.shared.overlap {
		s.shared.serial.Lock()
		defer s.shared.serial.Unlock()
	}

	tx := &memTx{
		state:         s.committed(),
		dirtyPayments: map[uuid.UUID]bool{},
		dirtyEvents:   map[string]bool{},
		claimed:       map[string]bool{},
		held:          map[string]*sync.Mutex{},
	}
	defer func() {
		for _, m := range tx.held {
			m.Unlock()
		}
	}()

	if err := fn(&memStore{shared: s.shared, tx: tx}); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *memStore) commit(tx *memTx) error {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	next := s.shared.state.clone()
	for id := range tx.dirtyPayments {
		p := tx.state.payments[id]
		for otherID, other := range next.payments {
			if otherID != id && intersects(other.Identifiers(), p.Identifiers()) {
				return repository.ErrConflict
			}
		}
		next.payments[id] = p
	}
	for id := range tx.dirtyEvents {
		if _, exists := next.events[id]; exists && tx.claimed[id] {
			return repository.ErrConflict
		}
		next.events[id] = tx.state.events[id]
	}
	s.shared.state = next
	return nil
}

// LockIdentifiers takes one mutex per identifier in LockKeys order. Once a new
// lock is held the snapshot is refreshed, so later reads see every commit made
// by the previous holder.
func (s *memStore) LockIdentifiers(_ context.Context, ids models.StripeIdentifiers) error {
	if s.tx == nil {
		return nil
	}
	acquired := false
	for _, key := range repository.LockKeys(ids) {
		if _, ok := s.tx.held[key]; ok {
			continue
		}
		m := s.shared.lockFor(key)
		if !m.TryLock() {
			if s.shared.onLockWait != nil {
				s.shared.onLockWait(key)
			}
			m.Lock()
		}
		s.tx.held[key] = m
		acquired = true
	}
	if acquired {
		s.refresh()
	}
	return nil
}

func (s *memStore) TryLockIdentifiers(_ context.Context, ids models.StripeIdentifiers) error {
	if s.tx == nil {
		return nil
	}
	acquired := false
	defer func() {
		if acquired {
			s.refresh()
		}
	}()
	for _, key := range repository.LockKeys(ids) {
		if _, ok := s.tx.held[key]; ok {
			continue
		}
		m := s.shared.lockFor(key)
		if !m.TryLock() {
			return repository.ErrConflict
		}
		s.tx.held[key] = m
		acquired = true
	}
	return nil
}

func (sh *memShared) lockFor(key string) *sync.Mutex {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	m, ok := sh.locks[key]
	if !ok {
		m = &sync.Mutex{}
		sh.locks[key] = m
	}
	return m
}

func (s *memStore) refresh() {
	fresh := s.committed()
	for id := range s.tx.dirtyPayments {
		fresh.payments[id] = s.tx.state.payments[id]
	}
	for id := range s.tx.dirtyEvents {
		fresh.events[id] = s.tx.state.events[id]
	}
	s.tx.state = fresh
}

// committed returns a copy of the committed state.
func (s *memStore) committed() *memState {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return s.shared.state.clone()
}

// current is what a statement sees: the transaction state, or a committed
// snapshot outside a transaction.
func (s *memStore) current() *memState {
	if s.tx != nil {
		return s.tx.state
	}
	return s.committed()
}

func (s *memStore) view() *memState { return s.committed() }

func (s *memStore) paymentList() []models.Payment {
	var out []models.Payment
	for _, p := range s.view().payments {
		out = append(out, p)
	}
	return out
}

func (s *memStore) tick() time.Time {
	s.shared.aux.Lock()
	defer s.shared.aux.Unlock()
	s.shared.clock = s.shared.clock.Add(time.Second)
	return s.shared.clock
}

func (s *memStore) takeConflict() bool {
	s.shared.aux.Lock()
	defer s.shared.aux.Unlock()
	if s.shared.conflicts > 0 {
		s.shared.conflicts--
		return true
	}
	return false
}

func (s *memStore) markPayment(p models.Payment) {
	s.tx.state.payments[p.ID] = p
	s.tx.dirtyPayments[p.ID] = true
}

func (s *memStore) markEvent(e models.WebhookEvent) {
	s.tx.state.events[e.EventID] = e
	s.tx.dirtyEvents[e.EventID] = true
}

type memPayments struct{ s *memStore }

func intersects(a, b models.StripeIdentifiers) bool {
	return (a.CheckoutSessionID != "" && a.CheckoutSessionID == b.CheckoutSessionID) ||
		(a.PaymentIntentID != "" && a.PaymentIntentID == b.PaymentIntentID) ||
		(a.ChargeID != "" && a.ChargeID == b.ChargeID)
}

func (r memPayments) FindByIdentifiers(_ context.Context, ids models.StripeIdentifiers) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range r.s.current().payments {
		if intersects(p.Identifiers(), ids) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r memPayments) FindByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	p, ok := r.s.current().payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r memPayments) collides(p *models.Payment) bool {
	mine := p.Identifiers()
	for id, other := range r.s.current().payments {
		if id != p.ID && intersects(other.Identifiers(), mine) {
			return true
		}
	}
	return false
}

func (r memPayments) Create(_ context.Context, p *models.Payment) error {
	if r.s.takeConflict() || r.collides(p) {
		return repository.ErrConflict
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := r.s.tick()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.markPayment(*p)
	return nil
}

// Update checks the version against the latest committed row unless this
// transaction already wrote it.
func (r memPayments) Update(_ context.Context, p *models.Payment) error {
	var (
		stored models.Payment
		ok     bool
	)
	if r.s.tx.dirtyPayments[p.ID] {
		stored, ok = r.s.tx.state.payments[p.ID]
	} else {
		stored, ok = r.s.committed().payments[p.ID]
	}
	if !ok || stored.Version != p.Version || r.s.takeConflict() || r.collides(p) {
		return repository.ErrConflict
	}
	p.Version++
	p.UpdatedAt = r.s.tick()
	r.s.markPayment(*p)
	return nil
}

func (r memPayments) List(_ context.Context, f repository.PaymentFilter) ([]models.Payment, int64, error) {
	var out []models.Payment
	for _, p := range r.s.current().payments {
		if f.Status == "" || p.Status == f.Status {
			out = append(out, p)
		}
	}
	return out, int64(len(out)), nil
}

func (r memPayments) ListByUser(_ context.Context, userID string) ([]models.Payment, error) {
	var out []models.Payment
	for _, p := range r.s.current().payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memEvents struct{ s *memStore }

func (r memEvents) Claim(_ context.Context, e *models.WebhookEvent) (bool, error) {
	if _, ok := r.s.current().events[e.EventID]; ok {
		return false, nil
	}
	e.ID = uuid.New()
	e.ReceivedAt = r.s.tick()
	r.s.markEvent(*e)
	r.s.tx.claimed[e.EventID] = true
	return true, nil
}

func (r memEvents) MarkApplied(_ context.Context, eventID string, paymentID uuid.UUID, at time.Time) error {
	e, ok := r.s.current().events[eventID]
	if !ok {
		return repository.ErrNotFound
	}
	e.Status = models.WebhookEventApplied
	e.PaymentID = &paymentID
	e.ProcessedAt = &at
	r.s.markEvent(e)
	return nil
}

func (r memEvents) FindDeferred(_ context.Context, ids models.StripeIdentifiers) ([]models.WebhookEvent, error) {
	if hook := r.s.shared.onFindDeferred; hook != nil {
		hook()
	}
	var out []models.WebhookEvent
	for _, e := range r.s.current().events {
		if e.Status == models.WebhookEventDeferred && intersects(e.Identifiers(), ids) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

func (r memEvents) ListDeferred(_ context.Context, before time.Time, limit int) ([]models.WebhookEvent, error) {
	var out []models.WebhookEvent
	for _, e := range r.s.current().events {
		if e.Status == models.WebhookEventDeferred && e.ReceivedAt.Before(before) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memEvents) CountDeferred(context.Context) (int64, error) {
	var n int64
	for _, e := range r.s.current().events {
		if e.Status == models.WebhookEventDeferred {
			n++
		}
	}
	return n, nil
}
