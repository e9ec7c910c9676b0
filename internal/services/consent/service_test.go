package consent

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/account"
	"obgateway/internal/domain/consent"
	"obgateway/internal/domain/money"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/pagination"
	"obgateway/internal/store/memory"
	"obgateway/internal/store/repositories"
)

var start = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memory.Store
	clk   *clock.Fake
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	clk := clock.NewFake(start)
	for _, p := range []struct {
		id      string
		modules []partnership.Module
	}{
		{"bank-a", []partnership.Module{partnership.ModuleAIS, partnership.ModulePIS}},
		{"bank-b", []partnership.Module{partnership.ModuleAIS, partnership.ModulePIS, partnership.ModuleCBPII}},
	} {
		pt, err := partnership.New(p.id, p.id, "sandbox", p.modules, start)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Partnerships().Insert(context.Background(), pt); err != nil {
			t.Fatal(err)
		}
	}
	return fixture{svc: NewService(store, memory.NewLocker(), clk), store: store, clk: clk}
}

func accountAccess() *consent.AccountAccess {
	return &consent.AccountAccess{Permissions: []consent.Permission{consent.ReadAccountsBasic}}
}

func domesticPayment() *consent.DomesticPayment {
	return &consent.DomesticPayment{Initiation: consent.Initiation{
		InstructionIdentification: "instr-1",
		EndToEndIdentification:    "e2e-1",
		InstructedAmount:          money.Amount{Amount: "10.00", Currency: "GBP"},
		CreditorAccount:           account.CashAccount{SchemeName: "UK.OBIE.SortCodeAccountNumber", Identification: "08080021325698", Name: "ACME Inc"},
	}}
}

func fundsConfirmation() *consent.FundsConfirmation {
	return &consent.FundsConfirmation{DebtorAccount: account.CashAccount{SchemeName: "UK.OBIE.SortCodeAccountNumber", Identification: "08080021325698"}}
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.Is(err, kind) {
		t.Fatalf("want %s error, got %v", kind, err)
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, accountAccess(), []string{"retail", "retail"}, "")
	if err != nil {
		t.Fatal(err)
	}
	b := c.Header()
	if b.ConsentID == "" || b.Status != consent.StatusAwaitingAuthorisation || !b.CreationDateTime.Equal(start) {
		t.Fatalf("created %+v", b)
	}
	if len(b.Tags) != 1 {
		t.Fatalf("tags not deduplicated: %v", b.Tags)
	}

	got, err := f.svc.Get(ctx, b.ConsentID, consent.TypeAccountAccess)
	if err != nil || got.Header().ConsentID != b.ConsentID {
		t.Fatalf("get: %v", err)
	}
	_, err = f.svc.Get(ctx, b.ConsentID, consent.TypeDomesticPayment)
	wantKind(t, err, apperr.KindNotFound)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, &consent.AccountAccess{}, nil, "")
	wantKind(t, err, apperr.KindValidation)

	bad := domesticPayment()
	bad.Initiation.InstructedAmount.Amount = "10.123456"
	_, err = f.svc.Create(ctx, bad, nil, "")
	wantKind(t, err, apperr.KindValidation)

	_, err = f.svc.Create(ctx, accountAccess(), nil, "nope")
	wantKind(t, err, apperr.KindValidation)

	_, err = f.svc.Create(ctx, fundsConfirmation(), nil, "bank-a")
	wantKind(t, err, apperr.KindValidation)

	if _, err := f.svc.Create(ctx, fundsConfirmation(), nil, "bank-b"); err != nil {
		t.Fatal(err)
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, _ := f.svc.Create(ctx, domesticPayment(), nil, "")
	id := c.Header().ConsentID

	_, err := f.svc.Initialize(ctx, id, consent.TypeDomesticPayment, "nope")
	wantKind(t, err, apperr.KindValidation)

	got, err := f.svc.Initialize(ctx, id, consent.TypeDomesticPayment, "bank-a")
	if err != nil || got.Header().PartnershipID != "bank-a" {
		t.Fatalf("initialize: %v", err)
	}
	version := got.Header().Version

	again, err := f.svc.Initialize(ctx, id, consent.TypeDomesticPayment, "bank-a")
	if err != nil || again.Header().Version != version {
		t.Fatalf("rebinding the same partnership must be a no-op: %v", err)
	}

	_, err = f.svc.Initialize(ctx, id, consent.TypeDomesticPayment, "bank-b")
	wantKind(t, err, apperr.KindConflict)

	_, err = f.svc.Initialize(ctx, "missing", consent.TypeDomesticPayment, "bank-a")
	wantKind(t, err, apperr.KindNotFound)

	fc, _ := f.svc.Create(ctx, fundsConfirmation(), nil, "")
	_, err = f.svc.Initialize(ctx, fc.Header().ConsentID, consent.TypeFundsConfirmation, "bank-b")
	wantKind(t, err, apperr.KindValidation)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, _ := f.svc.Create(ctx, accountAccess(), nil, "")
	id := c.Header().ConsentID
	if err := f.store.AuthRequests().Put(ctx, &consent.AuthorisationRequest{ConsentID: id, AuthState: "s"}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Grants().Put(ctx, &repositories.SealedGrant{ConsentID: id, AccessToken: "sealed"}); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(time.Minute)
	if err := f.svc.Delete(ctx, id, consent.TypeAccountAccess); err != nil {
		t.Fatal(err)
	}
	got, _ := f.svc.Get(ctx, id, "")
	if got.Header().Status != consent.StatusRevoked || !got.Header().StatusUpdateDateTime.Equal(start.Add(time.Minute)) {
		t.Fatalf("after delete: %+v", got.Header())
	}
	if _, err := f.store.AuthRequests().Take(ctx, id); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("auth request kept: %v", err)
	}
	if _, err := f.store.Grants().Get(ctx, id); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("grant kept: %v", err)
	}

	wantKind(t, f.svc.Delete(ctx, id, consent.TypeAccountAccess), apperr.KindConflict)

	dp, _ := f.svc.Create(ctx, domesticPayment(), nil, "")
	if err := f.svc.Delete(ctx, dp.Header().ConsentID, consent.TypeDomesticPayment); err != nil {
		t.Fatal(err)
	}
	got, _ = f.svc.Get(ctx, dp.Header().ConsentID, "")
	if got.Header().Status != consent.StatusRejected {
		t.Fatalf("payment consent status %s", got.Header().Status)
	}
}

func TestListPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		tags := []string{"all"}
		if i%5 == 0 {
			tags = append(tags, "fifth")
		}
		if _, err := f.svc.Create(ctx, accountAccess(), tags, "bank-a"); err != nil {
			t.Fatal(err)
		}
		f.clk.Advance(time.Second)
	}
	if _, err := f.svc.Create(ctx, domesticPayment(), []string{"all"}, ""); err != nil {
		t.Fatal(err)
	}

	self, _ := url.Parse("https://gw.example/account-access-consents")
	req := pagination.Request{Page: 1, PageSize: 10}.Pin(f.clk.Now())

	items, total, err := f.svc.List(ctx, consent.TypeAccountAccess, Filter{Tags: []string{"all"}}, req)
	if err != nil {
		t.Fatal(err)
	}
	page := pagination.Build(items, total, req, self)
	if len(page.Items) != 10 || page.Meta.PageCount != 3 || page.Meta.NextPage == nil || *page.Meta.NextPage != 2 || page.Links.Prev != "" {
		t.Fatalf("page 1 meta %+v links %+v", page.Meta, page.Links)
	}

	// a consent created after the snapshot does not shift later pages
	f.clk.Advance(time.Second)
	if _, err := f.svc.Create(ctx, accountAccess(), []string{"all"}, ""); err != nil {
		t.Fatal(err)
	}

	req.Page = 3
	items, total, _ = f.svc.List(ctx, consent.TypeAccountAccess, Filter{Tags: []string{"all"}}, req)
	page = pagination.Build(items, total, req, self)
	if len(page.Items) != 5 || page.Meta.NextPage != nil || total != 25 {
		t.Fatalf("page 3: %d items, meta %+v", len(page.Items), page.Meta)
	}

	items, total, _ = f.svc.List(ctx, consent.TypeAccountAccess, Filter{Tags: []string{"all", "fifth"}, PartnershipID: "bank-a"}, pagination.Request{Page: 1, PageSize: 10})
	if total != 5 || len(items) != 5 {
		t.Fatalf("tag filter: %d", total)
	}
}

func TestListKeepsPositionWhenEarlierConsentIsBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for _, bank := range []string{"", "bank-a", "bank-a"} {
		c, err := f.svc.Create(ctx, domesticPayment(), nil, bank)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.Header().ConsentID)
		f.clk.Advance(time.Second)
	}

	self, _ := url.Parse("https://gw.example/domestic-payment-consents")
	filter := Filter{PartnershipID: "bank-a"}
	req := pagination.Request{Page: 1, PageSize: 1}.Pin(f.clk.Now())

	var seen []string
	for {
		items, total, err := f.svc.List(ctx, consent.TypeDomesticPayment, filter, req)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range items {
			seen = append(seen, c.Header().ConsentID)
		}
		page := pagination.Build(items, total, req, self)
		if req.Page == 1 {
			// the earliest consent joins the filter behind the client
			if _, err := f.svc.Initialize(ctx, ids[0], consent.TypeDomesticPayment, "bank-a"); err != nil {
				t.Fatal(err)
			}
		}
		if page.Links.Next == "" {
			break
		}
		next, _ := url.Parse(page.Links.Next)
		if req, err = pagination.ParseQuery(next.Query(), 10, 100); err != nil {
			t.Fatal(err)
		}
		if req.Page > 5 {
			t.Fatal("walk does not terminate")
		}
	}
	if len(seen) != 2 || seen[0] != ids[1] || seen[1] != ids[2] {
		t.Fatalf("walk returned %v, want %v", seen, ids[1:])
	}
}
