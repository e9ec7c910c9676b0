package accounts

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/crypto"
	"obgateway/internal/domain/account"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/provider"
	"obgateway/internal/provider/sandbox"
	"obgateway/internal/services/vault"
	"obgateway/internal/store/memory"
)

var start = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memory.Store
	cache *memory.AccountCache
	clk   *clock.Fake
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewFake(start)
	bank := sandbox.New(sandbox.Options{Holders: map[string]string{"80200110203345": "Kevin Smith"}}, clk)
	reg := provider.NewRegistry(provider.ProviderSandbox)
	reg.RegisterProvider(provider.ProviderSandbox, bank)
	cache := memory.NewAccountCache(clk)
	v := vault.New(bytes.Repeat([]byte{7}, crypto.KeySize))
	return fixture{
		svc:   NewService(store, cache, reg, v, clk, time.Second, time.Hour),
		store: store,
		cache: cache,
		clk:   clk,
	}
}

func (f fixture) access(t *testing.T, id string, status consent.Status, mutate func(*consent.AccountAccess), perms ...consent.Permission) {
	t.Helper()
	c := &consent.AccountAccess{Permissions: perms}
	if mutate != nil {
		mutate(c)
	}
	if err := consent.Open(c, id, nil, "", start); err != nil {
		t.Fatal(err)
	}
	if status != consent.StatusAwaitingAuthorisation {
		if err := consent.Transition(c, status, start); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.store.Consents().Insert(context.Background(), c); err != nil {
		t.Fatal(err)
	}
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.Is(err, kind) {
		t.Fatalf("want %s error, got %v", kind, err)
	}
}

func TestAccountsDetailPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.access(t, "basic", consent.StatusAuthorised, nil, consent.ReadAccountsBasic)
	f.access(t, "detail", consent.StatusAuthorised, nil, consent.ReadAccountsDetail)

	basic, err := f.svc.Accounts(ctx, "basic")
	if err != nil {
		t.Fatal(err)
	}
	if len(basic) != 2 || basic[0].Account != nil {
		t.Fatalf("basic listing %+v", basic)
	}
	detail, err := f.svc.Accounts(ctx, "detail")
	if err != nil {
		t.Fatal(err)
	}
	if len(detail[0].Account) != 1 {
		t.Fatalf("detail listing lacks identifications: %+v", detail[0])
	}

	// the cache keeps the full record regardless of who read it first
	cached, ok, _ := f.cache.GetAccounts(ctx, "basic")
	if !ok || len(cached[0].Account) != 1 {
		t.Fatalf("cache entry %+v", cached)
	}
}

func TestAccessChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := start.Add(-time.Minute)
	f.access(t, "waiting", consent.StatusAwaitingAuthorisation, nil, consent.ReadAccountsBasic)
	f.access(t, "expired", consent.StatusAuthorised, func(c *consent.AccountAccess) { c.ExpirationDateTime = &past }, consent.ReadAccountsBasic)
	f.access(t, "balances-only", consent.StatusAuthorised, nil, consent.ReadBalances)

	_, err := f.svc.Accounts(ctx, "waiting")
	wantKind(t, err, apperr.KindConflict)
	_, err = f.svc.Accounts(ctx, "expired")
	wantKind(t, err, apperr.KindExpired)
	_, err = f.svc.Accounts(ctx, "balances-only")
	wantKind(t, err, apperr.KindValidation)
	_, err = f.svc.Accounts(ctx, "missing")
	wantKind(t, err, apperr.KindNotFound)

	balances, err := f.svc.Balances(ctx, "balances-only", "acc-current")
	if err != nil || len(balances) != 2 {
		t.Fatalf("balances: %v %v", balances, err)
	}
	_, err = f.svc.Balances(ctx, "balances-only", "acc-unknown")
	wantKind(t, err, apperr.KindNotFound)
}

func TestTransactionsWindowAndDirection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := start.Truncate(24 * time.Hour)
	from := day.Add(-4 * 24 * time.Hour)
	f.access(t, "credits", consent.StatusAuthorised, func(c *consent.AccountAccess) { c.TransactionFromDateTime = &from },
		consent.ReadTransactionsBasic, consent.ReadTransactionsCredits)

	txs, err := f.svc.Transactions(ctx, "credits", "acc-current", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, tx := range txs {
		if tx.CreditDebitIndicator != account.Credit || tx.Information != "" {
			t.Fatalf("unexpected entry %+v", tx)
		}
		ids = append(ids, tx.TransactionID)
	}
	if diff := cmp.Diff([]string{"acc-current-tx-03", "acc-current-tx-01"}, ids); diff != "" {
		t.Fatalf("transactions (-want +got):\n%s", diff)
	}

	// a window entirely before the consent window is empty
	early := from.Add(-48 * time.Hour)
	txs, err = f.svc.Transactions(ctx, "credits", "acc-current", nil, &early)
	if err != nil || len(txs) != 0 {
		t.Fatalf("clamped window: %v %v", txs, err)
	}

	later := from.Add(time.Hour)
	_, err = f.svc.Transactions(ctx, "credits", "acc-current", &later, &from)
	wantKind(t, err, apperr.KindValidation)
}

func TestRefreshAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := start.Add(-time.Minute)
	f.access(t, "a", consent.StatusAuthorised, nil, consent.ReadAccountsBasic)
	f.access(t, "b", consent.StatusAuthorised, nil, consent.ReadAccountsBasic)
	f.access(t, "expired", consent.StatusAuthorised, func(c *consent.AccountAccess) { c.ExpirationDateTime = &past }, consent.ReadAccountsBasic)
	f.access(t, "waiting", consent.StatusAwaitingAuthorisation, nil, consent.ReadAccountsBasic)

	var lines []string
	refreshed, failed, err := f.svc.RefreshAccounts(ctx, func(format string, args ...any) { lines = append(lines, format) })
	if err != nil || refreshed != 2 || failed != 0 || len(lines) != 2 {
		t.Fatalf("refresh: %d %d %v %v", refreshed, failed, lines, err)
	}
	for _, id := range []string{"a", "b"} {
		if _, ok, _ := f.cache.GetAccounts(ctx, id); !ok {
			t.Fatalf("consent %s not cached", id)
		}
	}
	if _, ok, _ := f.cache.GetAccounts(ctx, "expired"); ok {
		t.Fatal("expired consent cached")
	}
}

func TestVerifyName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	noCOP, _ := partnership.New("p-ais", "Bank A", "sandbox", []partnership.Module{partnership.ModuleAIS}, start)
	withCOP, _ := partnership.New("p-cop", "Bank B", "sandbox", []partnership.Module{partnership.ModuleCOP}, start)
	_ = f.store.Partnerships().Insert(ctx, noCOP)
	_ = f.store.Partnerships().Insert(ctx, withCOP)

	req := account.NameVerificationRequest{SchemeName: "UK.OBIE.SortCodeAccountNumber", Identification: "802001 10203345", Name: "Kevin Smith"}
	res, err := f.svc.VerifyName(ctx, "p-cop", req)
	if err != nil || res.Result != account.MatchFull {
		t.Fatalf("verify: %+v %v", res, err)
	}

	req.Name = "K Smith"
	res, err = f.svc.VerifyName(ctx, "", req)
	if err != nil || res.Result != account.MatchClose || res.Name != "Kevin Smith" {
		t.Fatalf("close match: %+v %v", res, err)
	}

	_, err = f.svc.VerifyName(ctx, "p-ais", req)
	wantKind(t, err, apperr.KindValidation)
	_, err = f.svc.VerifyName(ctx, "p-none", req)
	wantKind(t, err, apperr.KindValidation)
	req.Name = ""
	_, err = f.svc.VerifyName(ctx, "", req)
	wantKind(t, err, apperr.KindValidation)
}
