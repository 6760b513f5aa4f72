package market

import "math/big"

// Ledger helpers operate on an asset's raw bid sequence: an append-only slice
// in which cancelled, refunded and accepted slots remain as inactive
// tombstones until compaction rewrites the sequence.

// HighestActiveBid returns the maximum amount among active slots, or zero if
// no live bid exists. The highest live bid supersedes the nominal listing
// price as the true floor.
func HighestActiveBid(bids []*Bid) *big.Int {
	highest := big.NewInt(0)
	for _, b := range bids {
		if b == nil || !b.Active || b.Amount == nil {
			continue
		}
		if b.Amount.Cmp(highest) > 0 {
			highest = new(big.Int).Set(b.Amount)
		}
	}
	return highest
}

// ActiveCount returns the number of live slots in the sequence.
func ActiveCount(bids []*Bid) int {
	n := 0
	for _, b := range bids {
		if b != nil && b.Active {
			n++
		}
	}
	return n
}

// PaginateActive returns up to limit active entries starting at the offset-th
// active entry (not the raw slot index), preserving slot order, together with
// the total active count. An offset at or beyond the total yields an empty
// page and the true total.
func PaginateActive(bids []*Bid, offset, limit int) ([]*Bid, int) {
	total := ActiveCount(bids)
	if offset < 0 || limit < 0 {
		return nil, total
	}
	if offset >= total || limit == 0 {
		return []*Bid{}, total
	}
	page := make([]*Bid, 0, limit)
	seen := 0
	for _, b := range bids {
		if b == nil || !b.Active {
			continue
		}
		if seen >= offset {
			page = append(page, b.Clone())
			if len(page) == limit {
				break
			}
		}
		seen++
	}
	return page, total
}

// CompactResult reports the outcome of a ledger compaction.
type CompactResult struct {
	Removed  int
	Retained int
}

// Compact rewrites the sequence to contain only active entries, preserving
// their relative order, and returns the surviving slots together with the new
// 1-based index for every retained bidder. Compacting an already-compact
// sequence is a no-op (Removed == 0).
func Compact(bids []*Bid) ([]*Bid, map[[20]byte]uint64, CompactResult) {
	retained := make([]*Bid, 0, len(bids))
	index := make(map[[20]byte]uint64)
	removed := 0
	for _, b := range bids {
		if b == nil || !b.Active {
			removed++
			continue
		}
		retained = append(retained, b)
		index[b.Bidder] = uint64(len(retained))
	}
	return retained, index, CompactResult{Removed: removed, Retained: len(retained)}
}
