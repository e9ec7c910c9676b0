package consent

import (
	"time"

	"obgateway/internal/apperr"
)

type MultiAuthStatus string

const (
	MultiAuthAwaitingFurther MultiAuthStatus = "AwaitingFurtherAuthorisation"
	MultiAuthAuthorised      MultiAuthStatus = "Authorised"
	MultiAuthRejected        MultiAuthStatus = "Rejected"
)

// MultiAuthorisation tracks the approvals a 4-eyes payment still needs.
type MultiAuthorisation struct {
	Status             MultiAuthStatus `json:"Status"`
	NumberRequired     int             `json:"NumberRequired"`
	NumberReceived     int             `json:"NumberReceived"`
	LastUpdateDateTime *time.Time      `json:"LastUpdateDateTime,omitempty"`
	ExpirationDateTime *time.Time      `json:"ExpirationDateTime,omitempty"`
	// Approvers holds hashed approver tokens; each approver counts once.
	Approvers []string `json:"-"`
}

// Complete reports whether enough approvals were received.
func (m *MultiAuthorisation) Complete() bool {
	return m.Status == MultiAuthAuthorised && m.NumberReceived >= m.NumberRequired
}

// Record counts one approval. When the deadline has passed the status moves to
// Rejected and a conflict is returned; the caller must still persist m.
func (m *MultiAuthorisation) Record(approver string, now time.Time) error {
	const op = "consent.record_authorisation"
	switch m.Status {
	case MultiAuthRejected:
		return apperr.Conflict(op, "multi-authorisation was rejected")
	case MultiAuthAuthorised:
		return apperr.Conflict(op, "multi-authorisation is already complete")
	}
	if m.ExpirationDateTime != nil && !now.Before(*m.ExpirationDateTime) {
		m.Status = MultiAuthRejected
		m.LastUpdateDateTime = &now
		return apperr.Conflict(op, "multi-authorisation deadline has passed")
	}
	for _, a := range m.Approvers {
		if a == approver {
			return apperr.Conflict(op, "approver has already authorised this payment")
		}
	}
	m.Approvers = append(m.Approvers, approver)
	m.NumberReceived++
	if m.NumberReceived >= m.NumberRequired {
		m.Status = MultiAuthAuthorised
	}
	m.LastUpdateDateTime = &now
	return nil
}

// Clone returns a deep copy; nil stays nil.
func (m *MultiAuthorisation) Clone() *MultiAuthorisation {
	if m == nil {
		return nil
	}
	cp := *m
	cp.LastUpdateDateTime = cloneTime(m.LastUpdateDateTime)
	cp.ExpirationDateTime = cloneTime(m.ExpirationDateTime)
	cp.Approvers = append([]string(nil), m.Approvers...)
	return &cp
}
