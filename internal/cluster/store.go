package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/raft"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// Store is a ledger.Store whose writes go through raft. Reads are served
// from the local replica and may trail the leader by the replication lag.
type Store struct {
	node  *Node
	local ledger.Store
}

// NewStore wraps local, which must be the store the node's FSM applies to.
func NewStore(node *Node, local ledger.Store) *Store {
	return &Store{node: node, local: local}
}

// Append implements ledger.Store. Only the leader accepts writes.
func (s *Store) Append(ctx context.Context, rec ledger.Record) (ledger.Entry, error) {
	if !s.node.IsLeader() {
		return ledger.Entry{}, s.node.notLeader()
	}

	data, err := json.Marshal(Command{
		Type: CommandSubmit,
		Submit: &SubmitCommand{
			Identity:      rec.Identity,
			DayID:         rec.DayID,
			ContentDigest: rec.ContentDigest,
			CreatedAt:     rec.CreatedAt,
		},
	})
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to marshal log entry: %w", err)
	}

	timeout := s.node.cfg.ApplyTimeout
	if dl, ok := ctx.Deadline(); ok {
		left := time.Until(dl)
		if left <= 0 {
			return ledger.Entry{}, context.DeadlineExceeded
		}
		timeout = min(timeout, left)
	}

	future := s.node.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return ledger.Entry{}, s.node.notLeader()
		}
		return ledger.Entry{}, fmt.Errorf("failed to apply log: %w", err)
	}

	res, ok := future.Response().(ApplyResult)
	if !ok {
		return ledger.Entry{}, fmt.Errorf("unexpected apply response %T", future.Response())
	}
	return res.Entry, res.Err
}

// Lookup implements ledger.Store.
func (s *Store) Lookup(ctx context.Context, id ledger.Identity, day dayclock.DayID) (ledger.Entry, bool, error) {
	return s.local.Lookup(ctx, id, day)
}

// At implements ledger.Store.
func (s *Store) At(ctx context.Context, index uint64) (ledger.Entry, bool, error) {
	return s.local.At(ctx, index)
}

// Len implements ledger.Store.
func (s *Store) Len(ctx context.Context) (uint64, error) {
	return s.local.Len(ctx)
}

// Range implements ledger.Store.
func (s *Store) Range(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	return s.local.Range(ctx, from, to)
}
