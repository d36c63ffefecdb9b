// Package cluster replicates the ledger over raft. The leader stamps each
// submission and commits it to the raft log; every replica applies the log
// to its own ledger.Store.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/ledger"
)

// Config describes one node.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
	// Peers maps node id to raft address for the initial configuration.
	Peers map[string]string
	// APIAddrs maps node id to the HTTP base URL clients should use.
	APIAddrs map[string]string

	// Zero values select raft defaults.
	HeartbeatTimeout time.Duration
	ElectionTimeout  time.Duration
	ApplyTimeout     time.Duration

	// Transport overrides the TCP transport bound to BindAddr.
	Transport raft.Transport
}

// Node owns a raft instance and its on-disk state.
type Node struct {
	cfg    Config
	raft   *raft.Raft
	fsm    *FSM
	boltDB *raftboltdb.BoltStore
	logger *zap.Logger
}

// NewNode creates a Node that applies committed submissions to store.
func NewNode(cfg Config, store ledger.Store, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = 10 * time.Second
	}
	return &Node{cfg: cfg, fsm: NewFSM(store), logger: logger}
}

// Start opens raft state under DataDir and joins or bootstraps the cluster.
func (n *Node) Start() error {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(n.cfg.NodeID)
	raftConfig.LogOutput = zap.NewStdLog(n.logger.Named("raft")).Writer()
	if n.cfg.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = n.cfg.HeartbeatTimeout
		raftConfig.LeaderLeaseTimeout = min(raftConfig.LeaderLeaseTimeout, n.cfg.HeartbeatTimeout)
	}
	if n.cfg.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = n.cfg.ElectionTimeout
	}

	raftDir := filepath.Join(n.cfg.DataDir, "raft")
	if err := os.MkdirAll(raftDir, 0755); err != nil {
		return fmt.Errorf("failed to create raft directory: %w", err)
	}

	boltDB, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}
	n.boltDB = boltDB

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, raftConfig.LogOutput)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	transport := n.cfg.Transport
	if transport == nil {
		addr, err := net.ResolveTCPAddr("tcp", n.cfg.BindAddr)
		if err != nil {
			return fmt.Errorf("failed to resolve address: %w", err)
		}
		transport, err = raft.NewTCPTransport(n.cfg.BindAddr, addr, 3, 10*time.Second, raftConfig.LogOutput)
		if err != nil {
			return fmt.Errorf("failed to create transport: %w", err)
		}
	}

	ra, err := raft.NewRaft(raftConfig, n.fsm, boltDB, boltDB, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	n.raft = ra

	if !n.cfg.Bootstrap {
		return nil
	}
	hasState, err := raft.HasExistingState(boltDB, boltDB, snapshotStore)
	if err != nil {
		return fmt.Errorf("failed to check existing state: %w", err)
	}
	if hasState {
		return nil
	}

	servers := []raft.Server{{ID: raftConfig.LocalID, Address: transport.LocalAddr()}}
	for id, addr := range n.cfg.Peers {
		if raft.ServerID(id) == raftConfig.LocalID {
			continue
		}
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
	}
	if err := ra.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}
	n.logger.Info("raft cluster bootstrapped", zap.Int("servers", len(servers)))
	return nil
}

// Stop shuts raft down and closes the log store.
func (n *Node) Stop() error {
	var errs []error
	if n.raft != nil {
		if err := n.raft.Shutdown().Error(); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown raft: %w", err))
		}
	}
	if n.boltDB != nil {
		if err := n.boltDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsLeader reports whether this node currently accepts writes.
func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

// Leader returns the current leader's id and the address clients should
// use for it, or empty strings when no leader is known.
func (n *Node) Leader() (id, addr string) {
	if n.raft == nil {
		return "", ""
	}
	raftAddr, raftID := n.raft.LeaderWithID()
	id = string(raftID)
	if api, ok := n.cfg.APIAddrs[id]; ok {
		return id, api
	}
	return id, string(raftAddr)
}

// Ready returns nil once a leader is known.
func (n *Node) Ready(context.Context) error {
	if id, _ := n.Leader(); id == "" {
		return errors.New("no raft leader")
	}
	return nil
}

// WaitForLeader blocks until a leader is known or ctx is done.
func (n *Node) WaitForLeader(ctx context.Context) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		if n.Ready(ctx) == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for leader: %w", ctx.Err())
		case <-t.C:
		}
	}
}

// Join adds a voter. It must be called on the leader.
func (n *Node) Join(id, addr string) error {
	if !n.IsLeader() {
		return n.notLeader()
	}
	if err := n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0).Error(); err != nil {
		return fmt.Errorf("add voter %s: %w", id, err)
	}
	n.logger.Info("raft voter added", zap.String("node_id", id), zap.String("addr", addr))
	return nil
}

func (n *Node) notLeader() error {
	id, addr := n.Leader()
	return &NotLeaderError{LeaderID: id, Leader: addr}
}

// NotLeaderError is returned for writes on a follower.
type NotLeaderError struct {
	LeaderID string
	Leader   string
}

func (e *NotLeaderError) Error() string {
	if e.Leader == "" {
		return "not the leader; no leader elected"
	}
	return fmt.Sprintf("not the leader; leader is %s at %s", e.LeaderID, e.Leader)
}

// Unwrap makes the error match ledger.ErrNotLeader.
func (e *NotLeaderError) Unwrap() error { return ledger.ErrNotLeader }

// LeaderAddr implements ledger.LeaderHinter.
func (e *NotLeaderError) LeaderAddr() string { return e.Leader }
