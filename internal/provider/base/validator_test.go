package base

import (
	"errors"
	"testing"

	"obgateway/internal/domain/account"
	"obgateway/internal/provider"
)

func TestNormalize(t *testing.T) {
	v := NewAccountValidator()

	got, err := v.Normalize(account.CashAccount{SchemeName: SchemeSortCodeAccountNumber, Identification: "08-08-00 21325698"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Identification != "08080021325698" || SortCode(got) != "080800" {
		t.Fatalf("got %+v", got)
	}

	_, err = v.Normalize(account.CashAccount{SchemeName: SchemeSortCodeAccountNumber, Identification: "1234"})
	var pe *provider.ProviderError
	if !errors.As(err, &pe) || !pe.ClientFault() {
		t.Fatalf("short account number: %v", err)
	}

	if _, err := v.Normalize(account.CashAccount{SchemeName: "XX.Custom", Identification: "anything"}); err != nil {
		t.Fatalf("unknown scheme rejected: %v", err)
	}
}
