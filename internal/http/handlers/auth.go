package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"obgateway/internal/domain/consent"
	"obgateway/internal/services/authflow"
)

// InitiateAuth starts the PSU redirect for a consent awaiting authorisation.
func InitiateAuth(flow *authflow.Service, t consent.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RedirectURI string `json:"RedirectUri"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		ar, err := flow.Initiate(r.Context(), chi.URLParam(r, "consentID"), t, req.RedirectURI)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ar)
	}
}

// CompleteAuth exchanges the code the PSU came back with and returns the consent.
func CompleteAuth(flow *authflow.Service, t consent.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code  string `json:"Code"`
			State string `json:"State,omitempty"`
		}
		if err := decode(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		c, err := flow.Complete(r.Context(), chi.URLParam(r, "consentID"), t, req.Code, req.State)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}
