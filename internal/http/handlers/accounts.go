package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"obgateway/internal/apperr"
	"obgateway/internal/domain/account"
	middlewarex "obgateway/internal/http/middleware"
	"obgateway/internal/services/accounts"
)

func consentFrom(r *http.Request) (string, error) {
	id, ok := middlewarex.ConsentID(r.Context())
	if !ok {
		return "", apperr.Validation("accounts", "%s header is required", middlewarex.ConsentHeader)
	}
	return id, nil
}

func ListAccounts(svc *accounts.Service, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		consentID, err := consentFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, err := svc.Accounts(r.Context(), consentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSlice(w, r, p, items)
	}
}

func ListBalances(svc *accounts.Service, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		consentID, err := consentFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, err := svc.Balances(r.Context(), consentID, chi.URLParam(r, "accountID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSlice(w, r, p, items)
	}
}

// ListTransactions filters on fromBookingDateTime and toBookingDateTime (RFC 3339).
func ListTransactions(svc *accounts.Service, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		consentID, err := consentFrom(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		from, err := timeParam(r, "fromBookingDateTime")
		if err != nil {
			writeError(w, r, err)
			return
		}
		to, err := timeParam(r, "toBookingDateTime")
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, err := svc.Transactions(r.Context(), consentID, chi.URLParam(r, "accountID"), from, to)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeSlice(w, r, p, items)
	}
}

func VerifyName(svc *accounts.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			account.NameVerificationRequest
			PartnershipID string `json:"PartnershipId,omitempty"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.VerifyName(r.Context(), req.PartnershipID, req.NameVerificationRequest)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func timeParam(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Validation("accounts", "%s must be an RFC 3339 date-time with offset", key)
	}
	return &t, nil
}
