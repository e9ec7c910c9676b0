package authflow

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/crypto"
	"obgateway/internal/domain/consent"
	"obgateway/internal/provider"
	"obgateway/internal/provider/sandbox"
	"obgateway/internal/services/vault"
	"obgateway/internal/store/memory"
	"obgateway/internal/store/repositories"
)

const redirect = "https://tpp.example/cb"

var start = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// hangingProvider never answers a code exchange before ctx ends.
type hangingProvider struct {
	provider.Provider
}

func (hangingProvider) ExchangeCode(ctx context.Context, _ provider.ExchangeRequest) (*provider.AuthDecision, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	svc   *Service
	store *memory.Store
	clk   *clock.Fake
}

func newFixture(t *testing.T, p provider.Provider) fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewFake(start)
	if p == nil {
		p = sandbox.New(sandbox.Options{}, clk)
	}
	reg := provider.NewRegistry(provider.ProviderSandbox)
	reg.RegisterProvider(provider.ProviderSandbox, p)
	v := vault.New(bytes.Repeat([]byte{9}, crypto.KeySize))
	return fixture{
		svc:   NewService(store, memory.NewLocker(), reg, v, clk, 50*time.Millisecond),
		store: store,
		clk:   clk,
	}
}

func (f fixture) newConsent(t *testing.T) string {
	t.Helper()
	c := &consent.AccountAccess{Permissions: []consent.Permission{consent.ReadAccountsBasic}}
	if err := consent.Open(c, uuid.NewString(), nil, "", f.clk.Now()); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Consents().Insert(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c.ConsentID
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.Is(err, kind) {
		t.Fatalf("want %s error, got %v", kind, err)
	}
}

func TestAuthoriseAccountAccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.newConsent(t)

	req, err := f.svc.Initiate(ctx, id, consent.TypeAccountAccess, redirect)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.AuthState) < 43 || req.AuthURL == "" {
		t.Fatalf("request %+v", req)
	}
	u, _ := url.Parse(req.AuthURL)
	if u.Query().Get("state") != req.AuthState {
		t.Fatalf("auth url does not carry the state: %s", req.AuthURL)
	}

	f.clk.Advance(time.Minute)
	c, err := f.svc.Complete(ctx, id, consent.TypeAccountAccess, sandbox.CodeApprove, req.AuthState)
	if err != nil {
		t.Fatal(err)
	}
	if c.Header().Status != consent.StatusAuthorised || !c.Header().StatusUpdateDateTime.Equal(start.Add(time.Minute)) {
		t.Fatalf("consent %+v", c.Header())
	}
	sealed, err := f.store.Grants().Get(ctx, id)
	if err != nil || sealed.AccessToken == "" {
		t.Fatalf("grant not stored: %v", err)
	}

	// the code is single use
	_, err = f.svc.Complete(ctx, id, consent.TypeAccountAccess, sandbox.CodeApprove, "")
	wantKind(t, err, apperr.KindConflict)
	_, err = f.svc.Complete(ctx, id, consent.TypeAccountAccess, "another-code", "")
	wantKind(t, err, apperr.KindConflict)

	_, err = f.svc.Initiate(ctx, id, consent.TypeAccountAccess, redirect)
	wantKind(t, err, apperr.KindConflict)
}

func TestDenialRejects(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.newConsent(t)

	if _, err := f.svc.Initiate(ctx, id, consent.TypeAccountAccess, redirect); err != nil {
		t.Fatal(err)
	}
	c, err := f.svc.Complete(ctx, id, consent.TypeAccountAccess, sandbox.CodeDeny, "")
	if err != nil || c.Header().Status != consent.StatusRejected {
		t.Fatalf("denial: %v", err)
	}
	if _, err := f.store.Grants().Get(ctx, id); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("grant stored for a denial: %v", err)
	}

	_, err = f.svc.Initiate(ctx, id, consent.TypeAccountAccess, redirect)
	wantKind(t, err, apperr.KindConflict)
}

func TestCompleteFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.newConsent(t)

	_, err := f.svc.Complete(ctx, "missing", consent.TypeAccountAccess, "x", "")
	wantKind(t, err, apperr.KindNotFound)

	_, err = f.svc.Complete(ctx, id, consent.TypeAccountAccess, sandbox.CodeApprove, "")
	wantKind(t, err, apperr.KindNotFound)

	first, _ := f.svc.Initiate(ctx, id, consent.TypeAccountAccess, redirect)
	second, err := f.svc.Initiate(ctx, id, consent.TypeAccountAccess, redirect)
	if err != nil || first.AuthState == second.AuthState {
		t.Fatalf("re-initiate: %v", err)
	}

	_, err = f.svc.Complete(ctx, id, consent.TypeAccountAccess, "bad code", "")
	wantKind(t, err, apperr.KindValidation)

	// the superseded state no longer matches, and a failed check keeps the request
	_, err = f.svc.Complete(ctx, id, consent.TypeAccountAccess, sandbox.CodeApprove, first.AuthState)
	wantKind(t, err, apperr.KindValidation)

	_, err = f.svc.Complete(ctx, id, consent.TypeAccountAccess, sandbox.CodeInvalid, second.AuthState)
	wantKind(t, err, apperr.KindExternalAuth)
	if ae := new(apperr.Error); !errors.As(err, &ae) || !ae.ClientFault || apperr.HTTPStatus(err) != 400 {
		t.Fatalf("rejected code must be a client fault: %v", err)
	}

	// the failed exchange consumed the request
	_, err = f.svc.Complete(ctx, id, consent.TypeAccountAccess, sandbox.CodeApprove, "")
	wantKind(t, err, apperr.KindNotFound)
}

func TestCodeLengthLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.newConsent(t)
	if _, err := f.svc.Initiate(ctx, id, consent.TypeAccountAccess, redirect); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Complete(ctx, id, consent.TypeAccountAccess, strings.Repeat("a", 2049), "")
	wantKind(t, err, apperr.KindValidation)

	c, err := f.svc.Complete(ctx, id, consent.TypeAccountAccess, strings.Repeat("a", 2048), "")
	if err != nil || c.Header().Status != consent.StatusAuthorised {
		t.Fatalf("2048 byte code: %v", err)
	}
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.newConsent(t)

	for _, uri := range []string{"", "tpp.example/cb", "ftp://tpp.example/cb", "https://tpp.example/cb#frag"} {
		_, err := f.svc.Initiate(ctx, id, consent.TypeAccountAccess, uri)
		wantKind(t, err, apperr.KindValidation)
	}
	_, err := f.svc.Initiate(ctx, id, consent.TypeDomesticPayment, redirect)
	wantKind(t, err, apperr.KindNotFound)
}

func TestExchangeTimeout(t *testing.T) {
	clk := clock.NewFake(start)
	f := newFixture(t, hangingProvider{sandbox.New(sandbox.Options{}, clk)})
	ctx := context.Background()
	id := f.newConsent(t)

	if _, err := f.svc.Initiate(ctx, id, consent.TypeAccountAccess, redirect); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Complete(ctx, id, consent.TypeAccountAccess, sandbox.CodeApprove, "")
	wantKind(t, err, apperr.KindUpstreamTimeout)

	c, _ := f.store.Consents().Get(ctx, id)
	if c.Header().Status != consent.StatusAwaitingAuthorisation {
		t.Fatalf("status %s after timeout", c.Header().Status)
	}
}
