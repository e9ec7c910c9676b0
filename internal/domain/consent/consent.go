package consent

import (
	"strings"
	"time"

	"obgateway/internal/apperr"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/pagination"
)

// Type tags the consent variant.
type Type string

const (
	TypeAccountAccess     Type = "AccountAccess"
	TypeDomesticPayment   Type = "DomesticPayment"
	TypeFundsConfirmation Type = "FundsConfirmation"
)

// Module returns the partnership capability a consent type requires.
func (t Type) Module() partnership.Module {
	switch t {
	case TypeDomesticPayment:
		return partnership.ModulePIS
	case TypeFundsConfirmation:
		return partnership.ModuleCBPII
	default:
		return partnership.ModuleAIS
	}
}

// Status is the consent lifecycle state.
type Status string

const (
	StatusAwaitingAuthorisation Status = "AwaitingAuthorisation"
	StatusAuthorised            Status = "Authorised"
	StatusRejected              Status = "Rejected"
	StatusRevoked               Status = "Revoked"
	StatusConsumed              Status = "Consumed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusRevoked || s == StatusConsumed
}

var transitions = map[Type]map[Status][]Status{
	TypeAccountAccess: {
		StatusAwaitingAuthorisation: {StatusAuthorised, StatusRejected, StatusRevoked},
		StatusAuthorised:            {StatusRevoked},
	},
	TypeFundsConfirmation: {
		StatusAwaitingAuthorisation: {StatusAuthorised, StatusRejected, StatusRevoked},
		StatusAuthorised:            {StatusRevoked},
	},
	TypeDomesticPayment: {
		StatusAwaitingAuthorisation: {StatusAuthorised, StatusRejected},
		StatusAuthorised:            {StatusConsumed, StatusRejected},
	},
}

// CanTransition reports whether a consent of type t may move from -> to.
func CanTransition(t Type, from, to Status) bool {
	for _, s := range transitions[t][from] {
		if s == to {
			return true
		}
	}
	return false
}

// Base carries the fields every consent variant shares.
type Base struct {
	ConsentID            string    `json:"ConsentId"`
	Status               Status    `json:"Status"`
	CreationDateTime     time.Time `json:"CreationDateTime"`
	StatusUpdateDateTime time.Time `json:"StatusUpdateDateTime"`
	Tags                 []string  `json:"Tags,omitempty"`
	PartnershipID        string    `json:"PartnershipId,omitempty"`
	// Version is bumped on every persisted change and used for compare-and-swap.
	Version int64 `json:"-"`
}

// Header exposes the shared fields of any variant.
func (b *Base) Header() *Base { return b }

func (b *Base) PageKey() pagination.Cursor {
	return pagination.Cursor{At: b.CreationDateTime, ID: b.ConsentID}
}

// HasTags reports whether every tag in want is present.
func (b *Base) HasTags(want []string) bool {
	for _, w := range want {
		found := false
		for _, have := range b.Tags {
			if have == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Consent is implemented by *AccountAccess, *DomesticPayment and *FundsConfirmation only.
type Consent interface {
	Header() *Base
	PageKey() pagination.Cursor
	Type() Type
	Validate() error
	// open runs variant specific initialisation when the consent is first issued.
	open(now time.Time)
	clone() Consent
}

// Open validates a new consent and stamps its identity and initial status.
func Open(c Consent, id string, tags []string, partnershipID string, now time.Time) error {
	if err := c.Validate(); err != nil {
		return err
	}
	clean, err := normalizeTags(tags)
	if err != nil {
		return err
	}
	b := c.Header()
	b.ConsentID = id
	b.Status = StatusAwaitingAuthorisation
	b.CreationDateTime = now
	b.StatusUpdateDateTime = now
	b.Tags = clean
	b.PartnershipID = partnershipID
	b.Version = 0
	c.open(now)
	return nil
}

// Transition moves c to status to, keeping StatusUpdateDateTime monotonic.
func Transition(c Consent, to Status, now time.Time) error {
	b := c.Header()
	if !CanTransition(c.Type(), b.Status, to) {
		return apperr.Conflict("consent.transition", "consent %s cannot move from %s to %s", b.ConsentID, b.Status, to)
	}
	b.Status = to
	if now.After(b.StatusUpdateDateTime) {
		b.StatusUpdateDateTime = now
	}
	return nil
}

// Clone returns a deep copy, so stores never share memory with callers.
func Clone(c Consent) Consent {
	if c == nil {
		return nil
	}
	return c.clone()
}

func normalizeTags(tags []string) ([]string, error) {
	if len(tags) > 32 {
		return nil, apperr.Validation("consent.open", "at most 32 Tags are allowed")
	}
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, apperr.Validation("consent.open", "Tags must not contain empty labels")
		}
		if len(t) > 64 {
			return nil, apperr.Validation("consent.open", "tag %q is longer than 64 characters", t)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneBase(b Base) Base {
	b.Tags = append([]string(nil), b.Tags...)
	return b
}
