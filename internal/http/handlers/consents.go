package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"obgateway/internal/apperr"
	"obgateway/internal/domain/account"
	"obgateway/internal/domain/consent"
	consentsvc "obgateway/internal/services/consent"
)

type consentEnvelope struct {
	Tags          []string `json:"Tags,omitempty"`
	PartnershipID string   `json:"PartnershipId,omitempty"`
}

type accountAccessRequest struct {
	consentEnvelope
	Permissions             []consent.Permission `json:"Permissions"`
	ExpirationDateTime      *time.Time           `json:"ExpirationDateTime,omitempty"`
	TransactionFromDateTime *time.Time           `json:"TransactionFromDateTime,omitempty"`
	TransactionToDateTime   *time.Time           `json:"TransactionToDateTime,omitempty"`
}

type domesticPaymentRequest struct {
	consentEnvelope
	Initiation    consent.Initiation     `json:"Initiation"`
	Authorisation *consent.Authorisation `json:"Authorisation,omitempty"`
	Risk          consent.Risk           `json:"Risk"`
}

type fundsConfirmationRequest struct {
	consentEnvelope
	DebtorAccount      account.CashAccount `json:"DebtorAccount"`
	ExpirationDateTime *time.Time          `json:"ExpirationDateTime,omitempty"`
}

// decodeConsent reads the creation payload of a consent type.
func decodeConsent(w http.ResponseWriter, r *http.Request, t consent.Type) (consent.Consent, consentEnvelope, error) {
	switch t {
	case consent.TypeAccountAccess:
		var req accountAccessRequest
		if err := decode(w, r, &req); err != nil {
			return nil, consentEnvelope{}, err
		}
		return &consent.AccountAccess{
			Permissions:             req.Permissions,
			ExpirationDateTime:      req.ExpirationDateTime,
			TransactionFromDateTime: req.TransactionFromDateTime,
			TransactionToDateTime:   req.TransactionToDateTime,
		}, req.consentEnvelope, nil
	case consent.TypeDomesticPayment:
		var req domesticPaymentRequest
		if err := decode(w, r, &req); err != nil {
			return nil, consentEnvelope{}, err
		}
		return &consent.DomesticPayment{
			Initiation:    req.Initiation,
			Authorisation: req.Authorisation,
			Risk:          req.Risk,
		}, req.consentEnvelope, nil
	case consent.TypeFundsConfirmation:
		var req fundsConfirmationRequest
		if err := decode(w, r, &req); err != nil {
			return nil, consentEnvelope{}, err
		}
		return &consent.FundsConfirmation{
			DebtorAccount:      req.DebtorAccount,
			ExpirationDateTime: req.ExpirationDateTime,
		}, req.consentEnvelope, nil
	}
	return nil, consentEnvelope{}, apperr.Validation("decode", "unknown consent type %s", t)
}

func CreateConsent(svc *consentsvc.Service, t consent.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, env, err := decodeConsent(w, r, t)
		if err != nil {
			writeError(w, r, err)
			return
		}
		created, err := svc.Create(r.Context(), c, env.Tags, env.PartnershipID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func GetConsent(svc *consentsvc.Service, t consent.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.Get(r.Context(), chi.URLParam(r, "consentID"), t)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// ListConsents accepts partnership-id and tags (comma separated, all must match).
func ListConsents(svc *consentsvc.Service, t consent.Type, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := p.Request(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		q := r.URL.Query()
		items, total, err := svc.List(r.Context(), t, consentsvc.Filter{
			PartnershipID: q.Get("partnership-id"),
			Tags:          listParam(q, "tags"),
		}, page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePage(w, r, p, items, total, page)
	}
}

// InitializeConsent binds a consent to a partnership.
func InitializeConsent(svc *consentsvc.Service, t consent.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PartnershipID string `json:"PartnershipId"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		c, err := svc.Initialize(r.Context(), chi.URLParam(r, "consentID"), t, req.PartnershipID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func DeleteConsent(svc *consentsvc.Service, t consent.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "consentID"), t); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
