package market

import (
	"math/big"
	"testing"
)

func bidSlot(fill byte, amount int64, active bool) *Bid {
	return &Bid{
		Bidder:   newTestAddr(fill),
		Amount:   big.NewInt(amount),
		Escrowed: big.NewInt(amount),
		Active:   active,
	}
}

func TestHighestActiveBidSkipsTombstones(t *testing.T) {
	bids := []*Bid{
		bidSlot(0x01, 100, false),
		bidSlot(0x02, 300, false),
		bidSlot(0x03, 200, true),
		nil,
	}
	if got := HighestActiveBid(bids); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("highest = %s, want 200", got)
	}
	if got := HighestActiveBid(nil); got.Sign() != 0 {
		t.Fatalf("highest of empty ledger = %s, want 0", got)
	}
}

func TestPaginateActiveCountsOverLiveEntries(t *testing.T) {
	bids := []*Bid{
		bidSlot(0x01, 100, true),
		bidSlot(0x02, 110, false),
		bidSlot(0x03, 120, true),
		bidSlot(0x04, 130, true),
	}

	page, total := PaginateActive(bids, 0, 2)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(page) != 2 || page[0].Bidder != newTestAddr(0x01) || page[1].Bidder != newTestAddr(0x03) {
		t.Fatalf("first page wrong")
	}

	// The offset counts live entries, not raw slots: offset 1 lands on the
	// second live bid even though a tombstone sits between them.
	page, total = PaginateActive(bids, 1, 2)
	if total != 3 || len(page) != 2 || page[0].Bidder != newTestAddr(0x03) {
		t.Fatalf("offset page wrong")
	}

	// Offset at or beyond the live count yields an empty page and the true
	// total.
	page, total = PaginateActive(bids, 3, 2)
	if total != 3 || page == nil || len(page) != 0 {
		t.Fatalf("beyond-total page = %v total %d", page, total)
	}

	// Negative arguments are refused outright.
	if page, _ := PaginateActive(bids, -1, 2); page != nil {
		t.Fatalf("negative offset should yield nil page")
	}
}

func TestPaginateActiveReturnsCopies(t *testing.T) {
	bids := []*Bid{bidSlot(0x01, 100, true)}
	page, _ := PaginateActive(bids, 0, 1)
	if len(page) != 1 {
		t.Fatalf("expected one entry")
	}
	page[0].Amount.SetInt64(1)
	if bids[0].Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("ledger mutated through page copy")
	}
}

func TestCompactDropsTombstonesAndReindexes(t *testing.T) {
	bids := []*Bid{
		bidSlot(0x01, 100, false),
		bidSlot(0x02, 110, true),
		nil,
		bidSlot(0x03, 120, true),
		bidSlot(0x04, 130, false),
	}
	retained, index, res := Compact(bids)
	if res.Removed != 3 || res.Retained != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(retained) != 2 || retained[0].Bidder != newTestAddr(0x02) || retained[1].Bidder != newTestAddr(0x03) {
		t.Fatalf("retained order broken")
	}
	// Indexes are 1-based positions into the rewritten sequence.
	if index[newTestAddr(0x02)] != 1 || index[newTestAddr(0x03)] != 2 {
		t.Fatalf("index map = %v", index)
	}
	if _, ok := index[newTestAddr(0x01)]; ok {
		t.Fatalf("dropped bidder must not appear in the index")
	}
}

func TestCompactAlreadyCompactIsNoop(t *testing.T) {
	bids := []*Bid{
		bidSlot(0x01, 100, true),
		bidSlot(0x02, 110, true),
	}
	retained, _, res := Compact(bids)
	if res.Removed != 0 || res.Retained != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(retained) != 2 {
		t.Fatalf("retained = %d", len(retained))
	}
}

func TestActiveCount(t *testing.T) {
	bids := []*Bid{
		bidSlot(0x01, 100, true),
		bidSlot(0x02, 110, false),
		nil,
	}
	if got := ActiveCount(bids); got != 1 {
		t.Fatalf("active count = %d, want 1", got)
	}
}
