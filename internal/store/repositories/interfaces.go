package repositories

import (
	"context"
	"errors"
	"time"

	"obgateway/internal/domain/account"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/funds"
	"obgateway/internal/domain/job"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/domain/payment"
	"obgateway/internal/pagination"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key (id, payment consent, running schedule) is taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrVersionConflict is returned when an update's expected version is stale.
	ErrVersionConflict = errors.New("version conflict")
)

// ConsentFilter narrows a consent listing. Zero values match everything.
type ConsentFilter struct {
	Type          consent.Type
	PartnershipID string
	Tags          []string
	Statuses      []consent.Status
}

// ConsentRepository defines the contract for consent data access.
// Update is a compare-and-swap on Header().Version; on success the version is bumped in place.
type ConsentRepository interface {
	Insert(ctx context.Context, c consent.Consent) error
	Get(ctx context.Context, id string) (consent.Consent, error)
	Update(ctx context.Context, c consent.Consent) error
	List(ctx context.Context, f ConsentFilter, page pagination.Request) ([]consent.Consent, int, error)
}

// AuthRequestRepository keeps at most one outstanding request per consent.
type AuthRequestRepository interface {
	// Put stores r, superseding any prior request for the same consent.
	Put(ctx context.Context, r *consent.AuthorisationRequest) error
	// Take removes and returns the outstanding request; ErrNotFound if none.
	Take(ctx context.Context, consentID string) (*consent.AuthorisationRequest, error)
	Delete(ctx context.Context, consentID string) error
}

// SealedGrant is an ASPSP token grant with its secrets encrypted at rest.
type SealedGrant struct {
	ConsentID    string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// GrantRepository stores one sealed grant per authorised consent.
type GrantRepository interface {
	// Put stores g, replacing an earlier grant for the consent.
	Put(ctx context.Context, g *SealedGrant) error
	Get(ctx context.Context, consentID string) (*SealedGrant, error)
	Delete(ctx context.Context, consentID string) error
}

type PaymentFilter struct {
	PartnershipID string
	ConsentID     string
	Status        payment.Status
}

// PaymentRepository defines the contract for payment data access.
// Insert fails with ErrDuplicate when a payment already exists for the consent.
type PaymentRepository interface {
	Insert(ctx context.Context, p *payment.DomesticPayment) error
	Get(ctx context.Context, id string) (*payment.DomesticPayment, error)
	GetByConsent(ctx context.Context, consentID string) (*payment.DomesticPayment, error)
	Update(ctx context.Context, p *payment.DomesticPayment) error
	List(ctx context.Context, f PaymentFilter, page pagination.Request) ([]*payment.DomesticPayment, int, error)
	// ListUnsettled returns payments the rail may still move, oldest first.
	ListUnsettled(ctx context.Context, limit int) ([]*payment.DomesticPayment, error)
}

type FundsRepository interface {
	Insert(ctx context.Context, r *funds.Result) error
	Get(ctx context.Context, id string) (*funds.Result, error)
	List(ctx context.Context, consentID string, page pagination.Request) ([]*funds.Result, int, error)
}

type PartnershipRepository interface {
	Insert(ctx context.Context, p *partnership.Partnership) error
	Get(ctx context.Context, id string) (*partnership.Partnership, error)
	// List filters by module when m is non-empty.
	List(ctx context.Context, m partnership.Module, page pagination.Request) ([]*partnership.Partnership, int, error)
}

type ScheduleRepository interface {
	Insert(ctx context.Context, s *job.Schedule) error
	Get(ctx context.Context, id string) (*job.Schedule, error)
	Update(ctx context.Context, s *job.Schedule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, page pagination.Request) ([]*job.Schedule, int, error)
	// ListDue returns Active schedules whose NextExecutionDateTime is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*job.Schedule, error)
}

type ExecutionFilter struct {
	ScheduleID string
	JobID      job.ID
}

// ExecutionRepository defines the contract for job execution data access.
// Insert fails with ErrDuplicate while another execution of the same schedule is in progress.
type ExecutionRepository interface {
	Insert(ctx context.Context, e *job.Execution) error
	Get(ctx context.Context, id string) (*job.Execution, error)
	Update(ctx context.Context, e *job.Execution) error
	InProgress(ctx context.Context, scheduleID string) (*job.Execution, error)
	List(ctx context.Context, f ExecutionFilter, page pagination.Request) ([]*job.Execution, int, error)
}

// Repositories groups the data access contracts shared by stores and transactions.
type Repositories interface {
	Consents() ConsentRepository
	AuthRequests() AuthRequestRepository
	Grants() GrantRepository
	Payments() PaymentRepository
	Funds() FundsRepository
	Partnerships() PartnershipRepository
	Schedules() ScheduleRepository
	Executions() ExecutionRepository
}

// Store is a Resource Store: repositories plus transactions over them.
type Store interface {
	Repositories
	UnitOfWork
}

// UnitOfWork defines transactional operations
type UnitOfWork interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction defines a database transaction. Rollback after Commit is a no-op.
type Transaction interface {
	Repositories
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Locker serialises mutations per key across processes.
type Locker interface {
	// Lock blocks until key is held or ctx is done; the returned func releases it.
	Lock(ctx context.Context, key string) (func(), error)
}

// AccountCache holds provider account data refreshed by background jobs.
type AccountCache interface {
	GetAccounts(ctx context.Context, consentID string) ([]account.Account, bool, error)
	PutAccounts(ctx context.Context, consentID string, accounts []account.Account, ttl time.Duration) error
}
