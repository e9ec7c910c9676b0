package httpx

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hellofresh/health-go/v5"

	"obgateway/internal/clock"
	"obgateway/internal/crypto"
	"obgateway/internal/domain/job"
	"obgateway/internal/http/handlers"
	"obgateway/internal/provider"
	"obgateway/internal/provider/sandbox"
	"obgateway/internal/services/accounts"
	"obgateway/internal/services/authflow"
	consentsvc "obgateway/internal/services/consent"
	fundssvc "obgateway/internal/services/funds"
	"obgateway/internal/services/jobs"
	partnershipsvc "obgateway/internal/services/partnership"
	paymentsvc "obgateway/internal/services/payment"
	"obgateway/internal/services/vault"
	"obgateway/internal/store/memory"
)

const (
	apiToken   = "tpp-secret"
	adminToken = "admin-secret"
)

type gateway struct {
	t *testing.T
	h http.Handler
}

func newGateway(t *testing.T) gateway {
	t.Helper()
	store := memory.New()
	locker := memory.NewLocker()
	clk := clock.NewFake(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	reg := provider.NewRegistry(provider.ProviderSandbox)
	reg.RegisterProvider(provider.ProviderSandbox, sandbox.New(sandbox.Options{
		SettleAfter: time.Minute,
		Holders:     map[string]string{"08080021325698": "ACME Inc"},
	}, clk))
	v := vault.New(bytes.Repeat([]byte{7}, crypto.KeySize))
	hc, err := health.New(health.WithComponent(health.Component{Name: "obgateway"}))
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256([]byte(apiToken))
	scheduler := jobs.NewService(store, locker, clk, time.Second, time.Minute)
	scheduler.Register(job.RefreshAccounts, func(context.Context, func(string, ...any)) (string, error) {
		return "", nil
	})

	h := NewRouter(RouterDependencies{
		Consents:       consentsvc.NewService(store, locker, clk),
		AuthFlow:       authflow.NewService(store, locker, reg, v, clk, time.Second),
		Payments:       paymentsvc.NewService(store, locker, reg, v, clk, time.Second),
		Funds:          fundssvc.NewService(store, reg, v, clk, time.Second),
		Accounts:       accounts.NewService(store, memory.NewAccountCache(clk), reg, v, clk, time.Second, time.Hour),
		Jobs:           scheduler,
		Partnerships:   partnershipsvc.NewService(store, reg, clk),
		Pager:          handlers.Pager{Clock: clk, BaseURL: "https://gw.example", DefaultSize: 25, MaxSize: 100},
		APITokenSHA256: hex.EncodeToString(digest[:]),
		AdminToken:     adminToken,
		Health:         hc,
	})
	return gateway{t: t, h: h}
}

// do sends a request with the given headers and decodes a JSON answer into out.
func (g gateway) do(method, path string, body any, headers map[string]string, out any) int {
	g.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			g.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	g.h.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			g.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (g gateway) api(method, path string, body, out any) int {
	g.t.Helper()
	return g.do(method, path, body, map[string]string{"Authorization": "Bearer " + apiToken}, out)
}

func (g gateway) admin(method, path string, body, out any) int {
	g.t.Helper()
	return g.do(method, path, body, map[string]string{"X-Admin-Token": adminToken}, out)
}

type errorBody struct {
	Message string `json:"message"`
}

type consentBody struct {
	ConsentID string `json:"ConsentId"`
	Status    string `json:"Status"`
}

// authorise runs a consent through the sandbox authorisation flow.
func (g gateway) authorise(collection, consentID string) {
	g.t.Helper()
	var ar struct {
		AuthURL   string `json:"AuthUrl"`
		AuthState string `json:"AuthState"`
	}
	if code := g.api(http.MethodPost, collection+"/"+consentID+"/auth", map[string]string{"RedirectUri": "https://tpp.example/cb"}, &ar); code != http.StatusCreated {
		g.t.Fatalf("initiate auth: %d", code)
	}
	if ar.AuthURL == "" || ar.AuthState == "" {
		g.t.Fatalf("authorisation request = %+v", ar)
	}
	var c consentBody
	code := g.api(http.MethodPut, collection+"/"+consentID+"/auth",
		map[string]string{"Code": sandbox.CodeApprove, "State": ar.AuthState}, &c)
	if code != http.StatusOK || c.Status != "Authorised" {
		g.t.Fatalf("complete auth: %d %+v", code, c)
	}
}

func (g gateway) partnership(modules ...string) string {
	g.t.Helper()
	var p struct {
		PartnershipID string `json:"PartnershipId"`
	}
	code := g.admin(http.MethodPost, "/admin/partnerships", map[string]any{
		"Name": "Sandbox Bank", "Provider": "sandbox", "Modules": modules,
	}, &p)
	if code != http.StatusCreated {
		g.t.Fatalf("create partnership: %d", code)
	}
	return p.PartnershipID
}

func TestAuthGuards(t *testing.T) {
	g := newGateway(t)

	if code := g.do(http.MethodGet, "/api/v1/domestic-payments", nil, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code := g.do(http.MethodPost, "/admin/partnerships", map[string]any{"Name": "x"}, map[string]string{"Authorization": "Bearer " + apiToken}, nil); code != http.StatusUnauthorized {
		t.Fatalf("api token on admin route: %d", code)
	}
	if code := g.do(http.MethodGet, "/api/v1/job-schedules", nil, map[string]string{"X-Admin-Token": adminToken}, nil); code != http.StatusUnauthorized {
		t.Fatalf("admin token on api route: %d", code)
	}
	if code := g.do(http.MethodGet, "/health", nil, nil, nil); code != http.StatusOK {
		t.Fatalf("health: %d", code)
	}
	if code := g.do(http.MethodGet, "/metrics", nil, nil, nil); code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
}

func TestAccountAccessFlow(t *testing.T) {
	g := newGateway(t)
	pid := g.partnership("ais")

	var c consentBody
	code := g.api(http.MethodPost, "/api/v1/account-access-consents", map[string]any{
		"Permissions":   []string{"ReadAccountsDetail", "ReadBalances"},
		"PartnershipId": pid,
	}, &c)
	if code != http.StatusCreated || c.Status != "AwaitingAuthorisation" {
		t.Fatalf("create consent: %d %+v", code, c)
	}

	// not yet authorised
	headers := map[string]string{"Authorization": "Bearer " + apiToken, "X-Consent-Id": c.ConsentID}
	var e errorBody
	if code := g.do(http.MethodGet, "/api/v1/accounts", nil, headers, &e); code != http.StatusBadRequest || e.Message == "" {
		t.Fatalf("accounts before authorisation: %d %+v", code, e)
	}

	g.authorise("/api/v1/account-access-consents", c.ConsentID)

	var page struct {
		Items []struct {
			AccountID string `json:"AccountId"`
		} `json:"Items"`
		Meta struct {
			ItemCount int `json:"ItemCount"`
		} `json:"Meta"`
		Links struct {
			Self string `json:"Self"`
		} `json:"Links"`
	}
	if code := g.do(http.MethodGet, "/api/v1/accounts?page-size=1", nil, headers, &page); code != http.StatusOK {
		t.Fatalf("accounts: %d", code)
	}
	if len(page.Items) != 1 || page.Meta.ItemCount != 2 {
		t.Fatalf("accounts page = %+v", page)
	}
	if !strings.HasPrefix(page.Links.Self, "https://gw.example/api/v1/accounts") {
		t.Fatalf("self link = %q", page.Links.Self)
	}

	if code := g.do(http.MethodGet, "/api/v1/accounts/acc-current/balances", nil, headers, nil); code != http.StatusOK {
		t.Fatalf("balances: %d", code)
	}
	// transactions permission was not granted
	if code := g.do(http.MethodGet, "/api/v1/accounts/acc-current/transactions", nil, headers, nil); code != http.StatusBadRequest {
		t.Fatalf("transactions without permission: %d", code)
	}
	if code := g.api(http.MethodGet, "/api/v1/accounts", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("accounts without consent header: %d", code)
	}

	if code := g.api(http.MethodDelete, "/api/v1/account-access-consents/"+c.ConsentID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	var revoked consentBody
	g.api(http.MethodGet, "/api/v1/account-access-consents/"+c.ConsentID, nil, &revoked)
	if revoked.Status != "Revoked" {
		t.Fatalf("status after delete = %s", revoked.Status)
	}
}

func TestConsentTypeIsolation(t *testing.T) {
	g := newGateway(t)
	var c consentBody
	g.api(http.MethodPost, "/api/v1/account-access-consents", map[string]any{"Permissions": []string{"ReadAccountsBasic"}}, &c)

	var e errorBody
	if code := g.api(http.MethodGet, "/api/v1/funds-confirmation-consents/"+c.ConsentID, nil, &e); code != http.StatusBadRequest || e.Message == "" {
		t.Fatalf("cross-type read: %d %+v", code, e)
	}
	if code := g.api(http.MethodPost, "/api/v1/account-access-consents", map[string]any{"Permissions": []string{}}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty permissions: %d", code)
	}
}

func TestDomesticPaymentFlow(t *testing.T) {
	g := newGateway(t)
	pid := g.partnership("pis")

	var c consentBody
	code := g.api(http.MethodPost, "/api/v1/domestic-payment-consents", map[string]any{
		"PartnershipId": pid,
		"Initiation": map[string]any{
			"InstructionIdentification": "instr-1",
			"EndToEndIdentification":    "e2e-1",
			"InstructedAmount":          map[string]string{"Amount": "12.50", "Currency": "GBP"},
			"CreditorAccount": map[string]string{
				"SchemeName": "UK.OBIE.SortCodeAccountNumber", "Identification": "08080021325698", "Name": "ACME Inc",
			},
		},
		"Risk": map[string]any{},
	}, &c)
	if code != http.StatusCreated {
		t.Fatalf("create payment consent: %d", code)
	}
	g.authorise("/api/v1/domestic-payment-consents", c.ConsentID)

	type paymentBody struct {
		DomesticPaymentID string `json:"DomesticPaymentId"`
		Status            string `json:"Status"`
	}
	var first, second paymentBody
	if code := g.api(http.MethodPost, "/api/v1/domestic-payments", map[string]string{"ConsentId": c.ConsentID}, &first); code != http.StatusCreated {
		t.Fatalf("first submission: %d", code)
	}
	if code := g.api(http.MethodPost, "/api/v1/domestic-payments", map[string]string{"ConsentId": c.ConsentID}, &second); code != http.StatusOK {
		t.Fatalf("repeat submission: %d", code)
	}
	if first.DomesticPaymentID == "" || first.DomesticPaymentID != second.DomesticPaymentID {
		t.Fatalf("payments differ: %+v %+v", first, second)
	}

	var page struct {
		Items []paymentBody `json:"Items"`
	}
	if code := g.api(http.MethodGet, "/api/v1/domestic-payments?consent-id="+c.ConsentID, nil, &page); code != http.StatusOK || len(page.Items) != 1 {
		t.Fatalf("list payments: %d %+v", code, page)
	}
	if code := g.api(http.MethodGet, "/api/v1/domestic-payments?status=Nope", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter: %d", code)
	}
}

func TestJobAdministration(t *testing.T) {
	g := newGateway(t)

	// only REFRESH_ACCOUNTS has a runner in this gateway
	if code := g.api(http.MethodPost, "/api/v1/job-schedules", map[string]string{
		"JobId": "REFRESH_PAYMENTS", "ScheduleExpression": "0 */15 * * * *",
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("unregistered job: %d", code)
	}

	var sc struct {
		ScheduleID string `json:"ScheduleId"`
		Status     string `json:"Status"`
	}
	if code := g.api(http.MethodPost, "/api/v1/job-schedules", map[string]string{
		"JobId": "REFRESH_ACCOUNTS", "ScheduleExpression": "0 */15 * * * *",
	}, &sc); code != http.StatusCreated || sc.Status != "Active" {
		t.Fatalf("create schedule: %d %+v", code, sc)
	}
	if code := g.api(http.MethodPatch, "/api/v1/job-schedules/"+sc.ScheduleID, map[string]string{"Status": "Inactive"}, &sc); code != http.StatusOK || sc.Status != "Inactive" {
		t.Fatalf("deactivate: %d %+v", code, sc)
	}
	var page struct {
		Meta struct {
			ItemCount int `json:"ItemCount"`
		} `json:"Meta"`
	}
	if code := g.api(http.MethodGet, "/api/v1/job-schedules", nil, &page); code != http.StatusOK || page.Meta.ItemCount != 1 {
		t.Fatalf("list schedules: %d %+v", code, page)
	}
	if code := g.api(http.MethodDelete, "/api/v1/job-schedules/"+sc.ScheduleID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete schedule: %d", code)
	}

	var e errorBody
	if code := g.api(http.MethodGet, "/api/v1/job-schedules/"+sc.ScheduleID, nil, &e); code != http.StatusBadRequest || e.Message == "" {
		t.Fatalf("deleted schedule: %d %+v", code, e)
	}
	e = errorBody{}
	if code := g.api(http.MethodGet, "/api/v1/job-executions/missing", nil, &e); code != http.StatusBadRequest || e.Message == "" {
		t.Fatalf("missing execution: %d %+v", code, e)
	}
	if code := g.api(http.MethodGet, "/api/v1/job-schedules?page=0", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("page 0: %d", code)
	}
}

func TestConsentInitializeByPatch(t *testing.T) {
	g := newGateway(t)
	pid := g.partnership("ais")

	var c consentBody
	g.api(http.MethodPost, "/api/v1/account-access-consents", map[string]any{"Permissions": []string{"ReadAccountsBasic"}}, &c)

	var bound struct {
		PartnershipID string `json:"PartnershipId"`
	}
	path := "/api/v1/account-access-consents/" + c.ConsentID
	if code := g.api(http.MethodPatch, path, map[string]string{"PartnershipId": pid}, &bound); code != http.StatusOK || bound.PartnershipID != pid {
		t.Fatalf("initialize: %d %+v", code, bound)
	}
	var e errorBody
	if code := g.api(http.MethodPatch, path, map[string]string{"PartnershipId": "unknown"}, &e); code != http.StatusBadRequest || e.Message == "" {
		t.Fatalf("rebind: %d %+v", code, e)
	}
	if code := g.api(http.MethodPost, path+"/initialize", map[string]string{"PartnershipId": pid}, nil); code == http.StatusOK {
		t.Fatal("initialize is only reachable through PATCH")
	}
}

func TestPartnershipListing(t *testing.T) {
	g := newGateway(t)
	ais := g.partnership("ais")
	g.partnership("pis", "cop")

	var page struct {
		Items []struct {
			PartnershipID string `json:"PartnershipId"`
		} `json:"Items"`
	}
	if code := g.api(http.MethodGet, "/api/v1/partnerships?module=ais", nil, &page); code != http.StatusOK || len(page.Items) != 1 || page.Items[0].PartnershipID != ais {
		t.Fatalf("module filter: %d %+v", code, page)
	}
	var one struct {
		PartnershipID string `json:"PartnershipId"`
	}
	if code := g.api(http.MethodGet, "/api/v1/partnerships/"+ais, nil, &one); code != http.StatusOK || one.PartnershipID != ais {
		t.Fatalf("get partnership: %d", code)
	}
	if code := g.api(http.MethodGet, "/api/v1/partnerships?module=xyz", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown module: %d", code)
	}
}

func TestNameVerification(t *testing.T) {
	g := newGateway(t)

	var res struct {
		Result string `json:"Result"`
	}
	body := map[string]string{"SchemeName": "UK.OBIE.SortCodeAccountNumber", "Identification": "08080021325698", "Name": "ACME Inc"}
	if code := g.api(http.MethodPost, "/api/v1/accounts/name-verification", body, &res); code != http.StatusOK || res.Result != "FullMatch" {
		t.Fatalf("name verification: %d %+v", code, res)
	}
	body["Name"] = ""
	if code := g.api(http.MethodPost, "/api/v1/accounts/name-verification", body, nil); code != http.StatusBadRequest {
		t.Fatalf("missing name: %d", code)
	}
}
