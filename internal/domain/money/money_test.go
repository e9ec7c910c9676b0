package money

import "testing"

func TestValidate(t *testing.T) {
	valid := []Amount{
		{Amount: "10.00", Currency: "GBP"},
		{Amount: "5", Currency: "EUR"},
		{Amount: "1234567890123.12345", Currency: "USD"},
	}
	for _, a := range valid {
		if err := a.Validate(); err != nil {
			t.Errorf("%v: unexpected error %v", a, err)
		}
	}

	invalid := []Amount{
		{Amount: "", Currency: "GBP"},
		{Amount: "-1", Currency: "GBP"},
		{Amount: "1.123456", Currency: "GBP"},
		{Amount: "12345678901234", Currency: "GBP"},
		{Amount: "10.00", Currency: "gbp"},
		{Amount: "10.00", Currency: "GB"},
	}
	for _, a := range invalid {
		if err := a.Validate(); err == nil {
			t.Errorf("%v: expected validation error", a)
		}
	}
}

func TestCovers(t *testing.T) {
	want := Amount{Amount: "5.00", Currency: "GBP"}

	ok, err := want.Covers(Amount{Amount: "5", Currency: "GBP"})
	if err != nil || !ok {
		t.Fatalf("equal balance should cover: ok=%v err=%v", ok, err)
	}
	ok, _ = want.Covers(Amount{Amount: "4.99999", Currency: "GBP"})
	if ok {
		t.Fatal("smaller balance must not cover")
	}
	ok, _ = want.Covers(Amount{Amount: "500", Currency: "EUR"})
	if ok {
		t.Fatal("different currency must not cover")
	}
}
