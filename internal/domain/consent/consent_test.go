package consent

import (
	"testing"
	"time"

	"obgateway/internal/apperr"
	"obgateway/internal/domain/account"
	"obgateway/internal/domain/money"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newPaymentConsent(required int) *DomesticPayment {
	c := &DomesticPayment{
		Initiation: Initiation{
			InstructionIdentification: "INSTR-1",
			EndToEndIdentification:    "E2E-1",
			InstructedAmount:          money.Amount{Amount: "10.00", Currency: "GBP"},
			CreditorAccount:           account.CashAccount{SchemeName: "UK.OBIE.SortCodeAccountNumber", Identification: "08080021325698", Name: "ACME Inc"},
		},
	}
	if required > 0 {
		deadline := t0.Add(time.Hour)
		c.Authorisation = &Authorisation{AuthorisationType: AuthorisationAny, NumberRequired: required, CompletionDateTime: &deadline}
	}
	return c
}

func TestOpenSetsInitialState(t *testing.T) {
	c := &AccountAccess{Permissions: []Permission{ReadAccountsBasic}}
	if err := Open(c, "aac-1", []string{"retail", "retail", "uk"}, "", t0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if c.Status != StatusAwaitingAuthorisation {
		t.Fatalf("status = %s", c.Status)
	}
	if !c.CreationDateTime.Equal(t0) || !c.StatusUpdateDateTime.Equal(t0) {
		t.Fatal("timestamps not stamped")
	}
	if len(c.Tags) != 2 {
		t.Fatalf("tags not deduplicated: %v", c.Tags)
	}
}

func TestOpenValidatesPayload(t *testing.T) {
	cases := map[string]Consent{
		"empty permissions":       &AccountAccess{},
		"unknown permission":      &AccountAccess{Permissions: []Permission{"ReadEverything"}},
		"transactions unpaired":   &AccountAccess{Permissions: []Permission{ReadTransactionsBasic}},
		"bad amount":              &DomesticPayment{Initiation: Initiation{InstructionIdentification: "a", EndToEndIdentification: "b", InstructedAmount: money.Amount{Amount: "1,00", Currency: "GBP"}, CreditorAccount: account.CashAccount{SchemeName: "s", Identification: "i"}}},
		"missing debtor account":  &FundsConfirmation{},
		"single with many signers": &DomesticPayment{Initiation: newPaymentConsent(0).Initiation, Authorisation: &Authorisation{AuthorisationType: AuthorisationSingle, NumberRequired: 2}},
	}
	for name, c := range cases {
		err := Open(c, "id", nil, "", t0)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		typ      Type
		from, to Status
		ok       bool
	}{
		{TypeAccountAccess, StatusAwaitingAuthorisation, StatusAuthorised, true},
		{TypeAccountAccess, StatusAuthorised, StatusRevoked, true},
		{TypeAccountAccess, StatusAuthorised, StatusConsumed, false},
		{TypeAccountAccess, StatusRevoked, StatusAuthorised, false},
		{TypeFundsConfirmation, StatusRejected, StatusRevoked, false},
		{TypeDomesticPayment, StatusAuthorised, StatusConsumed, true},
		{TypeDomesticPayment, StatusAuthorised, StatusRevoked, false},
		{TypeDomesticPayment, StatusConsumed, StatusRejected, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.typ, tc.from, tc.to); got != tc.ok {
			t.Errorf("%s %s->%s = %v, want %v", tc.typ, tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTransitionKeepsUpdateTimeMonotonic(t *testing.T) {
	c := &AccountAccess{Permissions: []Permission{ReadAccountsBasic}}
	_ = Open(c, "aac-1", nil, "", t0)
	if err := Transition(c, StatusAuthorised, t0.Add(-time.Minute)); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if !c.StatusUpdateDateTime.Equal(t0) {
		t.Fatalf("StatusUpdateDateTime went backwards: %v", c.StatusUpdateDateTime)
	}
	if err := Transition(c, StatusAuthorised, t0); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMultiAuthorisationCounting(t *testing.T) {
	c := newPaymentConsent(2)
	if err := Open(c, "pc-1", nil, "", t0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	m := c.MultiAuthorisation
	if m == nil || m.Status != MultiAuthAwaitingFurther {
		t.Fatalf("multi-authorisation not initialised: %+v", m)
	}
	if err := m.Record("alice", t0); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if err := m.Record("alice", t0); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("duplicate approver: %v", err)
	}
	if c.MultiAuthorisationComplete() {
		t.Fatal("complete after one of two approvals")
	}
	if err := m.Record("bob", t0); err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if !c.MultiAuthorisationComplete() || m.NumberReceived != 2 {
		t.Fatalf("expected complete, got %+v", m)
	}
}

func TestMultiAuthorisationDeadline(t *testing.T) {
	c := newPaymentConsent(3)
	_ = Open(c, "pc-1", nil, "", t0)
	err := c.MultiAuthorisation.Record("alice", t0.Add(2*time.Hour))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if c.MultiAuthorisation.Status != MultiAuthRejected {
		t.Fatalf("status = %s", c.MultiAuthorisation.Status)
	}
}

func TestCloneIsDeep(t *testing.T) {
	c := newPaymentConsent(2)
	_ = Open(c, "pc-1", []string{"a"}, "", t0)
	cp := Clone(c).(*DomesticPayment)
	cp.Tags[0] = "changed"
	_ = cp.MultiAuthorisation.Record("alice", t0)
	if c.Tags[0] != "a" || c.MultiAuthorisation.NumberReceived != 0 {
		t.Fatal("clone shares memory with original")
	}
}
