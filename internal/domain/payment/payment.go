package payment

import (
	"fmt"
	"time"

	"obgateway/internal/domain/consent"
	"obgateway/internal/pagination"
)

// Status is the settlement state of a domestic payment.
type Status string

const (
	StatusPending                           Status = "Pending"
	StatusAcceptedSettlementInProcess       Status = "AcceptedSettlementInProcess"
	StatusAcceptedSettlementCompleted       Status = "AcceptedSettlementCompleted"
	StatusAcceptedCreditSettlementCompleted Status = "AcceptedCreditSettlementCompleted"
	StatusAcceptedWithoutPosting            Status = "AcceptedWithoutPosting"
	StatusRejected                          Status = "Rejected"
)

// ParseStatus validates a status reported by a rail or a query filter.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusAcceptedSettlementInProcess, StatusAcceptedSettlementCompleted,
		StatusAcceptedCreditSettlementCompleted, StatusAcceptedWithoutPosting, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

var settlement = map[Status][]Status{
	StatusPending: {
		StatusAcceptedSettlementInProcess, StatusAcceptedSettlementCompleted,
		StatusAcceptedCreditSettlementCompleted, StatusAcceptedWithoutPosting, StatusRejected,
	},
	StatusAcceptedSettlementInProcess: {StatusAcceptedSettlementCompleted, StatusAcceptedCreditSettlementCompleted},
	StatusAcceptedSettlementCompleted: {StatusAcceptedCreditSettlementCompleted},
}

// CanAdvance reports whether rail-reported progress from -> to is legal.
func CanAdvance(from, to Status) bool {
	for _, s := range settlement[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Settled reports whether the rail will report no further progress.
func (s Status) Settled() bool {
	return len(settlement[s]) == 0
}

// DomesticPayment is the payment created from a consumed payment consent.
type DomesticPayment struct {
	DomesticPaymentID    string                      `json:"DomesticPaymentId"`
	ConsentID            string                      `json:"ConsentId"`
	PartnershipID        string                      `json:"PartnershipId,omitempty"`
	Status               Status                      `json:"Status"`
	CreationDateTime     time.Time                   `json:"CreationDateTime"`
	StatusUpdateDateTime time.Time                   `json:"StatusUpdateDateTime"`
	Initiation           consent.Initiation          `json:"Initiation"`
	MultiAuthorisation   *consent.MultiAuthorisation `json:"MultiAuthorisation,omitempty"`
	// RailReference is the ASPSP's own identifier for the submitted payment.
	RailReference string `json:"-"`
	Version       int64  `json:"-"`
}

// New builds a payment from an authorised consent and the rail's acknowledgement.
func New(id string, c *consent.DomesticPayment, status Status, railRef string, now time.Time) *DomesticPayment {
	return &DomesticPayment{
		DomesticPaymentID:    id,
		ConsentID:            c.ConsentID,
		PartnershipID:        c.PartnershipID,
		Status:               status,
		CreationDateTime:     now,
		StatusUpdateDateTime: now,
		Initiation:           c.Initiation.Clone(),
		MultiAuthorisation:   c.MultiAuthorisation.Clone(),
		RailReference:        railRef,
	}
}

// Advance applies rail-reported progress.
func (p *DomesticPayment) Advance(to Status, now time.Time) error {
	if p.Status == to {
		return nil
	}
	if !CanAdvance(p.Status, to) {
		return fmt.Errorf("payment %s cannot move from %s to %s", p.DomesticPaymentID, p.Status, to)
	}
	p.Status = to
	if now.After(p.StatusUpdateDateTime) {
		p.StatusUpdateDateTime = now
	}
	return nil
}

// Clone returns a deep copy.
func (p *DomesticPayment) PageKey() pagination.Cursor {
	return pagination.Cursor{At: p.CreationDateTime, ID: p.DomesticPaymentID}
}

func (p *DomesticPayment) Clone() *DomesticPayment {
	cp := *p
	cp.Initiation = p.Initiation.Clone()
	cp.MultiAuthorisation = p.MultiAuthorisation.Clone()
	return &cp
}
