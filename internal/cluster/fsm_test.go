package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/hashicorp/raft"

	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/storetest"
)

func submitLog(t *testing.T, n byte, day int64) *raft.Log {
	t.Helper()
	rec := storetest.Record(n, dayclock.DayID(day))
	data, err := json.Marshal(Command{Type: CommandSubmit, Submit: &SubmitCommand{
		Identity:      rec.Identity,
		DayID:         rec.DayID,
		ContentDigest: rec.ContentDigest,
		CreatedAt:     rec.CreatedAt,
	}})
	if err != nil {
		t.Fatal(err)
	}
	return &raft.Log{Data: data}
}

func TestFSMApplySubmit(t *testing.T) {
	store := ledger.NewMemoryStore()
	fsm := NewFSM(store)

	res := fsm.Apply(submitLog(t, 1, 10)).(ApplyResult)
	if res.Err != nil {
		t.Fatalf("Apply failed: %v", res.Err)
	}
	if res.Entry.SequenceIndex != 0 {
		t.Errorf("sequence = %d, want 0", res.Entry.SequenceIndex)
	}

	dup := fsm.Apply(submitLog(t, 1, 10)).(ApplyResult)
	if !errors.Is(dup.Err, ledger.ErrAlreadySubmittedToday) {
		t.Errorf("replayed Apply: got %v, want ErrAlreadySubmittedToday", dup.Err)
	}
	if n, _ := store.Len(context.Background()); n != 1 {
		t.Errorf("Len = %d after duplicate apply", n)
	}
}

func TestFSMApplyRejectsGarbage(t *testing.T) {
	fsm := NewFSM(ledger.NewMemoryStore())

	if res := fsm.Apply(&raft.Log{Data: []byte("{")}).(ApplyResult); res.Err == nil {
		t.Error("malformed entry applied")
	}
	data, _ := json.Marshal(Command{Type: "reticulate"})
	if res := fsm.Apply(&raft.Log{Data: data}).(ApplyResult); res.Err == nil {
		t.Error("unknown command applied")
	}
	data, _ = json.Marshal(Command{Type: CommandSubmit})
	if res := fsm.Apply(&raft.Log{Data: data}).(ApplyResult); !errors.Is(res.Err, ledger.ErrInvalidInput) {
		t.Errorf("empty submit: got %v", res.Err)
	}
}

type mockSnapshotSink struct {
	bytes.Buffer
	cancelled bool
}

func (m *mockSnapshotSink) ID() string    { return "mock" }
func (m *mockSnapshotSink) Cancel() error { m.cancelled = true; return nil }
func (m *mockSnapshotSink) Close() error  { return nil }

func TestFSMSnapshotPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	src := ledger.NewMemoryStore()
	fsm := NewFSM(src)
	for i := byte(0); i < 4; i++ {
		if res := fsm.Apply(submitLog(t, i, 30)).(ApplyResult); res.Err != nil {
			t.Fatal(res.Err)
		}
	}

	snap, err := fsm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	sink := &mockSnapshotSink{}
	if err := snap.Persist(sink); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	snap.Release()

	// A replica that already holds the first entry.
	dst := ledger.NewMemoryStore()
	if _, err := dst.Append(ctx, storetest.Record(0, 30)); err != nil {
		t.Fatal(err)
	}
	if err := NewFSM(dst).Restore(io.NopCloser(&sink.Buffer)); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	n, _ := dst.Len(ctx)
	if n != 4 {
		t.Fatalf("restored Len = %d, want 4", n)
	}
	for i := uint64(0); i < 4; i++ {
		want, _, _ := src.At(ctx, i)
		got, _, _ := dst.At(ctx, i)
		if got.Identity != want.Identity || got.SequenceIndex != want.SequenceIndex {
			t.Errorf("entry %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestFSMRestoreRejectsDivergentReplica(t *testing.T) {
	ctx := context.Background()
	snapJSON, _ := json.Marshal(snapshotData{Entries: []ledger.Entry{
		storetest.Record(1, 5).At(0),
		storetest.Record(2, 5).At(1),
	}})

	// Local replica already has identity 2 at index 0, so identity 2 cannot
	// land at index 1.
	dst := ledger.NewMemoryStore()
	if _, err := dst.Append(ctx, storetest.Record(2, 5)); err != nil {
		t.Fatal(err)
	}
	if err := NewFSM(dst).Restore(io.NopCloser(bytes.NewReader(snapJSON))); err == nil {
		t.Error("Restore accepted a snapshot that conflicts with local state")
	}
}
