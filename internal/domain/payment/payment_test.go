package payment

import (
	"testing"
	"time"
)

func TestAdvance(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &DomesticPayment{DomesticPaymentID: "dp-1", Status: StatusPending, StatusUpdateDateTime: now}

	if err := p.Advance(StatusAcceptedSettlementInProcess, now.Add(time.Minute)); err != nil {
		t.Fatalf("pending -> in process: %v", err)
	}
	if err := p.Advance(StatusAcceptedSettlementCompleted, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("in process -> completed: %v", err)
	}
	if err := p.Advance(StatusRejected, now.Add(3*time.Minute)); err == nil {
		t.Fatal("completed -> rejected must fail")
	}
	if err := p.Advance(StatusAcceptedSettlementCompleted, now.Add(4*time.Minute)); err != nil {
		t.Fatalf("same status should be a no-op: %v", err)
	}
	if !p.StatusUpdateDateTime.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("StatusUpdateDateTime = %v", p.StatusUpdateDateTime)
	}
}

func TestSettled(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusAcceptedWithoutPosting, StatusAcceptedCreditSettlementCompleted} {
		if !s.Settled() {
			t.Errorf("%s should be settled", s)
		}
	}
	if StatusPending.Settled() || StatusAcceptedSettlementInProcess.Settled() {
		t.Error("pending and in-process are not settled")
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("AcceptedWithoutPosting"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseStatus("Done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
