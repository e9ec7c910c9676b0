package partnership

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"obgateway/internal/apperr"
	"obgateway/internal/clock"
	"obgateway/internal/domain/partnership"
	"obgateway/internal/pagination"
	"obgateway/internal/provider"
	"obgateway/internal/provider/sandbox"
	"obgateway/internal/store/memory"
)

func newService() *Service {
	clk := clock.NewFake(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	reg := provider.NewRegistry(provider.ProviderSandbox)
	reg.RegisterProvider(provider.ProviderSandbox, sandbox.New(sandbox.Options{}, clk))
	return NewService(memory.New(), reg, clk)
}

func TestCreateAndList(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	a, err := svc.Create(ctx, "Bank A", "sandbox", []string{"ais", "PIS", "ais"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]partnership.Module{partnership.ModuleAIS, partnership.ModulePIS}, a.Modules); diff != "" {
		t.Fatalf("modules (-want +got):\n%s", diff)
	}
	if _, err := svc.Create(ctx, "Bank B", "Sandbox", []string{"cop"}); err != nil {
		t.Fatal(err)
	}

	items, total, err := svc.List(ctx, "pis", pagination.Request{Page: 1, PageSize: 10})
	if err != nil || total != 1 || items[0].PartnershipID != a.PartnershipID {
		t.Fatalf("pis listing: %d %v", total, err)
	}
	_, total, _ = svc.List(ctx, "", pagination.Request{Page: 1, PageSize: 10})
	if total != 2 {
		t.Fatalf("%d partnerships listed", total)
	}

	got, err := svc.Get(ctx, a.PartnershipID)
	if err != nil || got.Name != "Bank A" {
		t.Fatalf("get: %+v %v", got, err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	cases := []struct {
		name, provider string
		modules        []string
	}{
		{"Bank", "unknown", []string{"ais"}},
		{"Bank", "sandbox", []string{"xyz"}},
		{"Bank", "sandbox", nil},
		{"", "sandbox", []string{"ais"}},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, tc.name, tc.provider, tc.modules); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("Create(%q, %q, %v) = %v, want validation error", tc.name, tc.provider, tc.modules, err)
		}
	}
	if _, _, err := svc.List(ctx, "xyz", pagination.Request{Page: 1, PageSize: 10}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("unknown module filter: %v", err)
	}
	if _, err := svc.Get(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("get missing: %v", err)
	}
}
