package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hellofresh/health-go/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"obgateway/internal/domain/consent"
	"obgateway/internal/http/handlers"
	middlewarex "obgateway/internal/http/middleware"
	"obgateway/internal/services/accounts"
	"obgateway/internal/services/authflow"
	consentsvc "obgateway/internal/services/consent"
	fundssvc "obgateway/internal/services/funds"
	"obgateway/internal/services/jobs"
	partnershipsvc "obgateway/internal/services/partnership"
	paymentsvc "obgateway/internal/services/payment"
)

// RouterDependencies holds all dependencies for the HTTP router
type RouterDependencies struct {
	Consents     *consentsvc.Service
	AuthFlow     *authflow.Service
	Payments     *paymentsvc.Service
	Funds        *fundssvc.Service
	Accounts     *accounts.Service
	Jobs         *jobs.Service
	Partnerships *partnershipsvc.Service
	Pager        handlers.Pager

	// APITokenSHA256 is the hex SHA-256 of the bearer token for API routes.
	APITokenSHA256 string
	AdminToken     string
	Health         *health.Health
}

// consentRoutes mounts the create/read/list/initialize/delete and
// authorisation endpoints shared by every consent type: PATCH initializes,
// POST /auth initiates and PUT /auth completes. extra adds type-specific
// routes under /{consentID}.
func consentRoutes(r chi.Router, deps RouterDependencies, t consent.Type, extra ...func(chi.Router)) {
	r.Post("/", handlers.CreateConsent(deps.Consents, t))
	r.Get("/", handlers.ListConsents(deps.Consents, t, deps.Pager))
	r.Route("/{consentID}", func(r chi.Router) {
		r.Get("/", handlers.GetConsent(deps.Consents, t))
		r.Delete("/", handlers.DeleteConsent(deps.Consents, t))
		r.Patch("/", handlers.InitializeConsent(deps.Consents, t))
		r.Post("/auth", handlers.InitiateAuth(deps.AuthFlow, t))
		r.Put("/auth", handlers.CompleteAuth(deps.AuthFlow, t))
		for _, fn := range extra {
			fn(r)
		}
	})
}

// NewRouter wires the gateway API.
func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middlewarex.RequestLogger("/health", "/metrics"))
	r.Use(chimw.Recoverer)

	if deps.Health != nil {
		r.Get("/health", deps.Health.HandlerFunc)
	}
	r.Handle("/metrics", promhttp.Handler())

	// creating partnerships is an operator task
	r.Route("/admin", func(r chi.Router) {
		r.Use(middlewarex.AdminAuth(deps.AdminToken))
		r.Post("/partnerships", handlers.CreatePartnership(deps.Partnerships))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarex.APITokenAuth(deps.APITokenSHA256))

		r.Route("/account-access-consents", func(r chi.Router) {
			consentRoutes(r, deps, consent.TypeAccountAccess)
		})
		r.Route("/domestic-payment-consents", func(r chi.Router) {
			consentRoutes(r, deps, consent.TypeDomesticPayment, func(r chi.Router) {
				r.Post("/authorisations", handlers.RecordAuthorisation(deps.Payments))
				r.Get("/funds-confirmation", handlers.PaymentFundsAvailability(deps.Payments))
			})
		})
		r.Route("/funds-confirmation-consents", func(r chi.Router) {
			consentRoutes(r, deps, consent.TypeFundsConfirmation)
		})

		r.Route("/domestic-payments", func(r chi.Router) {
			r.Post("/", handlers.CreatePayment(deps.Payments))
			r.Get("/", handlers.ListPayments(deps.Payments, deps.Pager))
			r.Get("/{paymentID}", handlers.GetPayment(deps.Payments))
		})
		r.Route("/funds-confirmations", func(r chi.Router) {
			r.Post("/", handlers.ConfirmFunds(deps.Funds))
			r.Get("/", handlers.ListFundsConfirmations(deps.Funds, deps.Pager))
			r.Get("/{fundsConfirmationID}", handlers.GetFundsConfirmation(deps.Funds))
		})
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/name-verification", handlers.VerifyName(deps.Accounts))
			r.Group(func(r chi.Router) {
				r.Use(middlewarex.ConsentScope)
				r.Get("/", handlers.ListAccounts(deps.Accounts, deps.Pager))
				r.Get("/{accountID}/balances", handlers.ListBalances(deps.Accounts, deps.Pager))
				r.Get("/{accountID}/transactions", handlers.ListTransactions(deps.Accounts, deps.Pager))
			})
		})

		r.Route("/job-schedules", func(r chi.Router) {
			r.Post("/", handlers.CreateSchedule(deps.Jobs))
			r.Get("/", handlers.ListSchedules(deps.Jobs, deps.Pager))
			r.Get("/{scheduleID}", handlers.GetSchedule(deps.Jobs))
			r.Patch("/{scheduleID}", handlers.UpdateSchedule(deps.Jobs))
			r.Delete("/{scheduleID}", handlers.DeleteSchedule(deps.Jobs))
		})
		r.Route("/job-executions", func(r chi.Router) {
			r.Post("/", handlers.TriggerExecution(deps.Jobs))
			r.Get("/", handlers.ListExecutions(deps.Jobs, deps.Pager))
			r.Get("/{executionID}", handlers.GetExecution(deps.Jobs))
			r.Get("/{executionID}/log", handlers.GetExecutionLog(deps.Jobs))
		})
		r.Route("/partnerships", func(r chi.Router) {
			r.Get("/", handlers.ListPartnerships(deps.Partnerships, deps.Pager))
			r.Get("/{partnershipID}", handlers.GetPartnership(deps.Partnerships))
		})
	})

	return r
}
