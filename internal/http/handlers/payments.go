package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"obgateway/internal/apperr"
	"obgateway/internal/domain/payment"
	paymentsvc "obgateway/internal/services/payment"
	"obgateway/internal/store/repositories"
)

// CreatePayment answers 201 for a new payment and 200 when the consent had
// already produced one.
func CreatePayment(svc *paymentsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConsentID string `json:"ConsentId"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.ConsentID == "" {
			writeError(w, r, apperr.Validation("payment.create", "ConsentId is required"))
			return
		}
		p, created, err := svc.Create(r.Context(), req.ConsentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, p)
	}
}

func GetPayment(svc *paymentsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Get(r.Context(), chi.URLParam(r, "paymentID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// ListPayments accepts consent-id, partnership-id and status filters.
func ListPayments(svc *paymentsvc.Service, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := p.Request(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		q := r.URL.Query()
		f := repositories.PaymentFilter{
			ConsentID:     q.Get("consent-id"),
			PartnershipID: q.Get("partnership-id"),
		}
		if v := q.Get("status"); v != "" {
			st, err := payment.ParseStatus(v)
			if err != nil {
				writeError(w, r, apperr.Validation("payment.list", "%v", err))
				return
			}
			f.Status = st
		}
		items, total, err := svc.List(r.Context(), f, page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePage(w, r, p, items, total, page)
	}
}

// RecordAuthorisation counts one approver of a multi-authorisation payment consent.
func RecordAuthorisation(svc *paymentsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ApproverToken string `json:"ApproverToken"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		ma, err := svc.RecordAuthorisation(r.Context(), chi.URLParam(r, "consentID"), req.ApproverToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ma)
	}
}

func PaymentFundsAvailability(svc *paymentsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		av, err := svc.FundsAvailability(r.Context(), chi.URLParam(r, "consentID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, av)
	}
}
