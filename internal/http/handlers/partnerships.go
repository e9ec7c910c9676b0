package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	partnershipsvc "obgateway/internal/services/partnership"
)

// CreatePartnership onboards an ASPSP connection. Admin only.
func CreatePartnership(svc *partnershipsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string   `json:"Name"`
			Provider string   `json:"Provider"`
			Modules  []string `json:"Modules"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		p, err := svc.Create(r.Context(), req.Name, req.Provider, req.Modules)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func GetPartnership(svc *partnershipsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Get(r.Context(), chi.URLParam(r, "partnershipID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// ListPartnerships filters on module (ais, pis, cbpii or cop).
func ListPartnerships(svc *partnershipsvc.Service, p Pager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := p.Request(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items, total, err := svc.List(r.Context(), r.URL.Query().Get("module"), page)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePage(w, r, p, items, total, page)
	}
}
