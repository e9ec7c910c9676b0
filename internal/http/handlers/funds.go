package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"obgateway/internal/domain/money"
	fundssvc "obgateway/internal/services/funds"
)

func ConfirmFunds(svc *fundssvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConsentID        string       `json:"ConsentId"`
			Reference        string       `json:"Reference"`
			InstructedAmount money.Amount `json:"InstructedAmount"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := svc.Confirm(r.Context(), req.ConsentID, req.Reference, req.InstructedAmount)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func GetFundsConfirmation(svc *fundssvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Get(r.Context(), chi.URLParam(r, "fundsConfirmationID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func ListFundsConfirmations(svc *fundssvc.Service, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := p.Request(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, total, err := svc.List(r.Context(), r.URL.Query().Get("consent-id"), page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePage(w, r, p, items, total, page)
	}
}
