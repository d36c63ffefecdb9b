package cluster_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/cluster"
	"github.com/Institute-for-Folly/RECAP/internal/dayclock"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/ledger/storetest"
)

type member struct {
	node   *cluster.Node
	local  *ledger.MemoryStore
	ledger *ledger.SubmissionLedger
}

func startCluster(t *testing.T, clock dayclock.Clock, size int) []*member {
	t.Helper()

	addrs := make([]raft.ServerAddress, size)
	trans := make([]*raft.InmemTransport, size)
	for i := range trans {
		addrs[i], trans[i] = raft.NewInmemTransport("")
	}
	for i := range trans {
		for j := range trans {
			if i != j {
				trans[i].Connect(addrs[j], trans[j])
			}
		}
	}

	peers := make(map[string]string, size)
	for i := range addrs {
		peers[fmt.Sprintf("node%d", i)] = string(addrs[i])
	}

	members := make([]*member, size)
	for i := range members {
		local := ledger.NewMemoryStore()
		node := cluster.NewNode(cluster.Config{
			NodeID:           fmt.Sprintf("node%d", i),
			DataDir:          t.TempDir(),
			Bootstrap:        i == 0,
			Peers:            peers,
			HeartbeatTimeout: 100 * time.Millisecond,
			ElectionTimeout:  100 * time.Millisecond,
			Transport:        trans[i],
		}, local, zap.NewNop())
		if err := node.Start(); err != nil {
			t.Fatalf("start node%d: %v", i, err)
		}
		t.Cleanup(func() { node.Stop() })

		members[i] = &member{
			node:   node,
			local:  local,
			ledger: ledger.New(cluster.NewStore(node, local), clock, zap.NewNop()),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, m := range members {
		if err := m.node.WaitForLeader(ctx); err != nil {
			t.Fatal(err)
		}
	}
	return members
}

func leaderOf(t *testing.T, members []*member) (*member, []*member) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for i, m := range members {
			if m.node.IsLeader() {
				var followers []*member
				followers = append(followers, members[:i]...)
				followers = append(followers, members[i+1:]...)
				return m, followers
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no leader elected")
	return nil, nil
}

func waitForLen(t *testing.T, s ledger.Store, want uint64) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		n, err := s.Len(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if n == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("replica Len = %d, want %d", n, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCluster_replicatesSubmissions(t *testing.T) {
	ctx := context.Background()
	clock := dayclock.NewManualAtDay(500, time.Hour)
	members := startCluster(t, clock, 3)
	leader, followers := leaderOf(t, members)

	for i := byte(0); i < 3; i++ {
		if _, err := leader.ledger.Submit(ctx, storetest.Identity(i), storetest.Digest(i+1)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := leader.ledger.Submit(ctx, storetest.Identity(0), storetest.Digest(9)); !errors.Is(err, ledger.ErrAlreadySubmittedToday) {
		t.Errorf("duplicate through raft: got %v", err)
	}

	for _, f := range followers {
		waitForLen(t, f.local, 3)
		for i := uint64(0); i < 3; i++ {
			want, _, _ := leader.local.At(ctx, i)
			got, _, _ := f.local.At(ctx, i)
			if got.Identity != want.Identity || !got.CreatedAt.Equal(want.CreatedAt) || got.DayID != want.DayID {
				t.Errorf("replica entry %d = %+v, leader has %+v", i, got, want)
			}
		}
	}
}

func TestCluster_followerRejectsWrites(t *testing.T) {
	clock := dayclock.NewManualAtDay(500, time.Hour)
	members := startCluster(t, clock, 3)
	leader, followers := leaderOf(t, members)

	_, err := followers[0].ledger.Submit(context.Background(), storetest.Identity(1), storetest.Digest(1))
	if !errors.Is(err, ledger.ErrNotLeader) {
		t.Fatalf("follower submit: got %v, want ErrNotLeader", err)
	}
	var nle *cluster.NotLeaderError
	if !errors.As(err, &nle) {
		t.Fatalf("error %v is not a NotLeaderError", err)
	}
	if id, _ := leader.node.Leader(); nle.LeaderID != id {
		t.Errorf("hinted leader %q, want %q", nle.LeaderID, id)
	}
	if nle.LeaderAddr() == "" {
		t.Error("empty leader address hint")
	}
}
