package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/raft"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// Log entry types.
const (
	CommandSubmit = "submit"
)

// Command is the payload of one raft log entry.
type Command struct {
	Type   string         `json:"type"`
	Submit *SubmitCommand `json:"submit,omitempty"`
}

// SubmitCommand carries a record already stamped by the leader, so every
// replica stores identical timestamps and day ids.
type SubmitCommand struct {
	Identity      ledger.Identity `json:"identity"`
	DayID         dayclock.DayID  `json:"day_id"`
	ContentDigest ledger.Digest   `json:"content_digest"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (c *SubmitCommand) record() ledger.Record {
	return ledger.Record{
		Identity:      c.Identity,
		DayID:         c.DayID,
		ContentDigest: c.ContentDigest,
		CreatedAt:     c.CreatedAt,
	}
}

// ApplyResult is what FSM.Apply returns for a submit.
type ApplyResult struct {
	Entry ledger.Entry
	Err   error
}

// FSM applies committed commands to a local ledger.Store. Stores assign
// sequence indices deterministically, so replicas that apply the same log
// hold the same ledger.
type FSM struct {
	store ledger.Store
}

// NewFSM returns an FSM over store.
func NewFSM(store ledger.Store) *FSM {
	return &FSM{store: store}
}

// Apply implements raft.FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return ApplyResult{Err: fmt.Errorf("failed to unmarshal log entry: %w", err)}
	}

	switch cmd.Type {
	case CommandSubmit:
		if cmd.Submit == nil {
			return ApplyResult{Err: fmt.Errorf("%w: submit command without body", ledger.ErrInvalidInput)}
		}
		// A replayed entry hits the day index and is rejected again, leaving
		// state unchanged.
		entry, err := f.store.Append(context.Background(), cmd.Submit.record())
		return ApplyResult{Entry: entry, Err: err}
	default:
		return ApplyResult{Err: fmt.Errorf("unknown log entry type: %s", cmd.Type)}
	}
}

type snapshotData struct {
	Entries []ledger.Entry `json:"entries"`
}

// Snapshot implements raft.FSM. Apply and Snapshot are never called
// concurrently, so the copy is consistent.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	ctx := context.Background()
	n, err := f.store.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	entries, err := f.store.Range(ctx, 0, n)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &fsmSnapshot{data: snapshotData{Entries: entries}}, nil
}

// Restore implements raft.FSM. Entries already present locally are kept;
// the rest are appended in order and must land on their original index.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshotData
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	ctx := context.Background()
	have, err := f.store.Len(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	for _, e := range snap.Entries {
		if e.SequenceIndex < have {
			continue
		}
		got, err := f.store.Append(ctx, ledger.Record{
			Identity:      e.Identity,
			DayID:         e.DayID,
			ContentDigest: e.ContentDigest,
			CreatedAt:     e.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to restore entry %d: %w", e.SequenceIndex, err)
		}
		if got.SequenceIndex != e.SequenceIndex {
			return fmt.Errorf("restored entry %d landed at %d", e.SequenceIndex, got.SequenceIndex)
		}
	}
	return nil
}

type fsmSnapshot struct {
	data snapshotData
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
