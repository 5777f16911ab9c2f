package enums

import "testing"

func TestPurchaseStatusOpenAndTerminal(t *testing.T) {
	open := []PurchaseStatus{PurchaseStatusPending, PurchaseStatusIncomplete, PurchaseStatusProcessing}
	for _, s := range open {
		if !s.IsOpen() || s.IsTerminal() {
			t.Fatalf("expected %s to be open", s)
		}
	}
	terminal := []PurchaseStatus{
		PurchaseStatusCompleted,
		PurchaseStatusFailed,
		PurchaseStatusCancelled,
		PurchaseStatusRefunded,
		PurchaseStatusExpired,
	}
	for _, s := range terminal {
		if s.IsOpen() || !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
		if _, ok := PurchaseEventFor(s); !ok {
			t.Fatalf("expected lifecycle event for %s", s)
		}
	}
	if PurchaseStatus("bogus").IsTerminal() {
		t.Fatalf("unknown status must not be terminal")
	}
}

func TestParsePurchaseStatus(t *testing.T) {
	got, err := ParsePurchaseStatus("completed")
	if err != nil || got != PurchaseStatusCompleted {
		t.Fatalf("expected completed, got %q err=%v", got, err)
	}
	if _, err := ParsePurchaseStatus("COMPLETED"); err == nil {
		t.Fatalf("expected case-sensitive parse to fail")
	}
}
