// Package memory is an in-process Resource Store used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/funds"
	"obgateway/internal/domain/job"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/domain/payment"
	"obgateway/internal/pagination"
	"obgateway/internal/store/repositories"
)

type state struct {
	consents         map[string]consent.Consent
	authRequests     map[string]*consent.AuthorisationRequest
	grants           map[string]*repositories.SealedGrant
	payments         map[string]*payment.DomesticPayment
	paymentByConsent map[string]string
	funds            map[string]*funds.Result
	partnerships     map[string]*partnership.Partnership
	schedules        map[string]*job.Schedule
	executions       map[string]*job.Execution
}

func newState() *state {
	return &state{
		consents:         map[string]consent.Consent{},
		authRequests:     map[string]*consent.AuthorisationRequest{},
		grants:           map[string]*repositories.SealedGrant{},
		payments:         map[string]*payment.DomesticPayment{},
		paymentByConsent: map[string]string{},
		funds:            map[string]*funds.Result{},
		partnerships:     map[string]*partnership.Partnership{},
		schedules:        map[string]*job.Schedule{},
		executions:       map[string]*job.Execution{},
	}
}

// copy duplicates the maps only; stored values are replaced, never mutated.
func (s *state) copy() *state {
	return &state{
		consents:         copyMap(s.consents),
		authRequests:     copyMap(s.authRequests),
		grants:           copyMap(s.grants),
		payments:         copyMap(s.payments),
		paymentByConsent: copyMap(s.paymentByConsent),
		funds:            copyMap(s.funds),
		partnerships:     copyMap(s.partnerships),
		schedules:        copyMap(s.schedules),
		executions:       copyMap(s.executions),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// view gives repositories access to either the committed state or a transaction's working copy.
type view interface {
	read(fn func(*state))
	write(fn func(*state) error) error
}

// Store implements repositories.Store. A transaction holds the store's write
// lock from Begin until Commit or Rollback, so transactions are serialisable.
type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) read(fn func(*state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

func (s *Store) write(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) Consents() repositories.ConsentRepository         { return consentRepo{s} }
func (s *Store) AuthRequests() repositories.AuthRequestRepository { return authRequestRepo{s} }
func (s *Store) Grants() repositories.GrantRepository             { return grantRepo{s} }
func (s *Store) Payments() repositories.PaymentRepository         { return paymentRepo{s} }
func (s *Store) Funds() repositories.FundsRepository              { return fundsRepo{s} }
func (s *Store) Partnerships() repositories.PartnershipRepository { return partnershipRepo{s} }
func (s *Store) Schedules() repositories.ScheduleRepository       { return scheduleRepo{s} }
func (s *Store) Executions() repositories.ExecutionRepository     { return executionRepo{s} }

// Begin starts a transaction over a private copy of the state.
func (s *Store) Begin(ctx context.Context) (repositories.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &transaction{store: s, work: s.st.copy()}, nil
}

type transaction struct {
	store *Store
	work  *state
	done  bool
}

func (t *transaction) read(fn func(*state)) { fn(t.work) }

func (t *transaction) write(fn func(*state) error) error { return fn(t.work) }

func (t *transaction) Consents() repositories.ConsentRepository         { return consentRepo{t} }
func (t *transaction) AuthRequests() repositories.AuthRequestRepository { return authRequestRepo{t} }
func (t *transaction) Grants() repositories.GrantRepository             { return grantRepo{t} }
func (t *transaction) Payments() repositories.PaymentRepository         { return paymentRepo{t} }
func (t *transaction) Funds() repositories.FundsRepository              { return fundsRepo{t} }
func (t *transaction) Partnerships() repositories.PartnershipRepository { return partnershipRepo{t} }
func (t *transaction) Schedules() repositories.ScheduleRepository       { return scheduleRepo{t} }
func (t *transaction) Executions() repositories.ExecutionRepository     { return executionRepo{t} }

func (t *transaction) Commit(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.st = t.work
	t.store.mu.Unlock()
	return nil
}

func (t *transaction) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

// window applies the snapshot filter, the (created, id) order and the page bounds.
func window[T any](items []T, created func(T) time.Time, id func(T) string, page pagination.Request) ([]T, int) {
	var kept []T
	for _, it := range items {
		if !page.Snapshot.IsZero() && created(it).After(page.Snapshot) {
			continue
		}
		kept = append(kept, it)
	}
	key := func(it T) pagination.Cursor { return pagination.Cursor{At: created(it), ID: id(it)} }
	sort.Slice(kept, func(i, j int) bool { return key(kept[i]).Less(key(kept[j])) })
	return pagination.Window(kept, key, page)
}
