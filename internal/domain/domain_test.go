package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAuctionStatus_Transitions(t *testing.T) {
	cases := []struct {
		from, to AuctionStatus
		want     bool
	}{
		{AuctionStatusScheduled, AuctionStatusActive, true},
		{AuctionStatusScheduled, AuctionStatusCancelled, true},
		{AuctionStatusScheduled, AuctionStatusEnded, false},
		{AuctionStatusActive, AuctionStatusEnded, true},
		{AuctionStatusActive, AuctionStatusCancelled, true},
		{AuctionStatusActive, AuctionStatusScheduled, false},
		{AuctionStatusEnded, AuctionStatusScheduled, true}, // restart
		{AuctionStatusEnded, AuctionStatusActive, false},
		{AuctionStatusCancelled, AuctionStatusScheduled, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNegotiationStatus_SingleCounterRoundTrip(t *testing.T) {
	if !NegotiationStatusPending.CanTransitionTo(NegotiationStatusCountered) {
		t.Error("Pending must allow Countered")
	}
	if NegotiationStatusCountered.CanTransitionTo(NegotiationStatusCountered) {
		t.Error("a second counter must not be allowed")
	}
	if !NegotiationStatusCountered.CanTransitionTo(NegotiationStatusAccepted) {
		t.Error("Countered must allow Accepted")
	}
	if NegotiationStatusPending.CanTransitionTo(NegotiationStatusAccepted) {
		t.Error("Pending must not jump straight to Accepted")
	}
	for _, terminal := range []NegotiationStatus{
		NegotiationStatusAccepted, NegotiationStatusDeclined,
		NegotiationStatusExpired, NegotiationStatusCancelled,
	} {
		if !terminal.IsTerminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		if terminal.CanTransitionTo(NegotiationStatusPending) {
			t.Errorf("%s must not reopen", terminal)
		}
	}
}

func TestAuction_MinimumNextBid(t *testing.T) {
	a := &Auction{StartingPrice: 10_000, BidIncrement: 500}
	if got := a.MinimumNextBid(); got != 10_000 {
		t.Fatalf("first bid floor: got %d, want 10000", got)
	}

	current := int64(12_000)
	a.CurrentBid = &current
	if got := a.MinimumNextBid(); got != 12_500 {
		t.Fatalf("subsequent bid floor: got %d, want 12500", got)
	}
}

func TestAuction_ReserveMet(t *testing.T) {
	a := &Auction{StartingPrice: 1_000}
	if a.ReserveMet() {
		t.Error("no bids: reserve cannot be met")
	}

	current := int64(1_500)
	a.CurrentBid = &current
	if !a.ReserveMet() {
		t.Error("no reserve price: any bid meets it")
	}

	reserve := int64(2_000)
	a.ReservePrice = &reserve
	if a.ReserveMet() {
		t.Error("bid 1500 must not meet reserve 2000")
	}

	current = 2_000
	if !a.ReserveMet() {
		t.Error("bid 2000 must meet reserve 2000")
	}
}

func TestNegotiation_AgreedPrice(t *testing.T) {
	n := &Negotiation{OfferAmount: 8_000}
	if got := n.AgreedPrice(); got != 8_000 {
		t.Fatalf("no counter: got %d, want offer 8000", got)
	}

	counter := int64(9_000)
	n.CounterAmount = &counter
	if got := n.AgreedPrice(); got != 9_000 {
		t.Fatalf("countered: got %d, want counter 9000", got)
	}
}

func TestError_CodeAndReason(t *testing.T) {
	err := NewValidation(ReasonBidTooLow, "bid %d below floor %d", 100, 200)
	if !IsValidation(err) {
		t.Fatal("expected VALIDATION")
	}
	if ReasonOf(err) != ReasonBidTooLow {
		t.Fatalf("reason: got %q", ReasonOf(err))
	}
	if CodeOf(err) != CodeValidation {
		t.Fatalf("code: got %q", CodeOf(err))
	}

	nf := NewNotFound("auction", uuid.Nil)
	if !IsNotFound(nf) {
		t.Fatal("expected NOT_FOUND")
	}
	if IsStateConflict(nf) {
		t.Fatal("NOT_FOUND must not match STATE_CONFLICT")
	}
}

func TestProduct_IsAvailable(t *testing.T) {
	p := &Product{Status: ProductStatusActive, Quantity: 10}
	if !p.IsAvailable() {
		t.Error("active product should be available")
	}
	p.Status = ProductStatusSold
	if p.IsAvailable() {
		t.Error("sold product should not be available")
	}
}

func TestSystemClock_UTC(t *testing.T) {
	now := SystemClock{}.Now()
	if now.Location() != time.UTC {
		t.Fatalf("clock must be UTC, got %v", now.Location())
	}
}
