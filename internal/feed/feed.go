// Package feed serves the global ledger newest-first.
package feed

import (
	"context"
	"fmt"

	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// Source is the read side of the ledger the feed pages over.
// *ledger.SubmissionLedger satisfies it.
type Source interface {
	TotalEntries(ctx context.Context) (uint64, error)
	EntriesRange(ctx context.Context, from, to uint64) ([]ledger.Entry, error)
}

// Index pages the global log in reverse chronological order.
type Index struct {
	src Source
}

// New returns an Index over src.
func New(src Source) *Index {
	return &Index{src: src}
}

// Latest returns up to limit entries, skipping the offset newest entries.
// Results are ordered by descending sequence index. offset equal to the log
// length yields an empty page; anything larger is ErrOffsetOutOfBounds.
func (x *Index) Latest(ctx context.Context, offset, limit uint64) ([]ledger.Entry, error) {
	total, err := x.src.TotalEntries(ctx)
	if err != nil {
		return nil, err
	}
	if offset > total {
		return nil, fmt.Errorf("%w: offset %d, total %d", ledger.ErrOffsetOutOfBounds, offset, total)
	}

	hi := total - offset
	n := min(limit, hi)
	if n == 0 {
		return []ledger.Entry{}, nil
	}

	entries, err := x.src.EntriesRange(ctx, hi-n, hi)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Page is one page of Latest with the cursor for the next one.
type Page struct {
	Entries    []ledger.Entry `json:"entries"`
	Offset     uint64         `json:"offset"`
	Limit      uint64         `json:"limit"`
	Total      uint64         `json:"total"`
	NextOffset *uint64        `json:"next_offset,omitempty"`
}

// LatestPage wraps Latest with paging metadata. NextOffset is nil on the
// last page.
func (x *Index) LatestPage(ctx context.Context, offset, limit uint64) (Page, error) {
	entries, err := x.Latest(ctx, offset, limit)
	if err != nil {
		return Page{}, err
	}
	total, err := x.src.TotalEntries(ctx)
	if err != nil {
		return Page{}, err
	}
	p := Page{Entries: entries, Offset: offset, Limit: limit, Total: total}
	if next := offset + uint64(len(entries)); len(entries) > 0 && next < total {
		p.NextOffset = &next
	}
	return p, nil
}
