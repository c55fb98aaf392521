package core

// lookup.go – outbound RPCs and the iterative find_successor walk.
//
// The routing protocol is iterative by design: PEER FOUND carries the best
// next hop, never a final answer, and the caller keeps walking until the
// queried peer answers with itself. Recursive server-side resolution is
// deliberately not implemented; it would smear timeout accounting across
// the whole ring.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"chord-network/pkg/utils"
)

// lookupHopBudget bounds a single lookup walk. A healthy ring resolves in
// O(log N) hops; hitting the budget means the ring is looping.
const lookupHopBudget = 256

// ErrLookupDiverged is returned when a lookup exhausts its hop budget. A
// walk that revisits a peer is not an error: it ends at the current hop.
var ErrLookupDiverged = errors.New("lookup: walk diverged")

// ErrStorageRejected is returned when a remote peer answers a storage
// request with STORAGE FAILURE.
var ErrStorageRejected = errors.New("rpc: storage request rejected by peer")

// rpcClient performs single request/reply exchanges against remote peers
// over pooled transient connections.
type rpcClient struct {
	pool    *ConnPool
	timeout time.Duration
	log     *logrus.Entry
}

// exchange sends req to peer and reads exactly one reply frame. The whole
// exchange shares one deadline: the configured socket timeout, tightened
// by the context deadline when that is sooner.
func (c *rpcClient) exchange(ctx context.Context, peer Peer, req Message) (Message, error) {
	conn, err := c.pool.Acquire(ctx, peer.DialAddr())
	if err != nil {
		return nil, utils.Wrapf(err, "connect %s", peer.Addr)
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	if err := WriteMessage(conn, req); err != nil {
		c.pool.Discard(conn)
		return nil, utils.Wrapf(err, "send to %s", peer.Addr)
	}
	reply, err := ReadMessage(conn)
	if err != nil {
		c.pool.Discard(conn)
		return nil, utils.Wrapf(err, "reply from %s", peer.Addr)
	}
	c.pool.Release(conn)
	return reply, nil
}

// findNext asks peer for its best next hop toward id.
func (c *rpcClient) findNext(ctx context.Context, peer Peer, id Identifier) (Peer, error) {
	reply, err := c.exchange(ctx, peer, &PeerFind{ID: id})
	if err != nil {
		return Peer{}, err
	}
	found, ok := reply.(*PeerFound)
	if !ok {
		return Peer{}, fmt.Errorf("peer %s answered PEER FIND with type %d", peer.Addr, reply.Type())
	}
	if found.ID != id {
		return Peer{}, fmt.Errorf("peer %s answered for identifier %s, asked %s", peer.Addr, found.ID.Short(), id.Short())
	}
	return found.Peer, nil
}

// notify announces self to peer and returns the peer's predecessor.
func (c *rpcClient) notify(ctx context.Context, peer, self Peer) (Peer, error) {
	reply, err := c.exchange(ctx, peer, &PredecessorNotify{Peer: self})
	if err != nil {
		return Peer{}, err
	}
	pr, ok := reply.(*PredecessorReply)
	if !ok {
		return Peer{}, fmt.Errorf("peer %s answered PREDECESSOR NOTIFY with type %d", peer.Addr, reply.Type())
	}
	return pr.Peer, nil
}

// storagePut stores value at peer under (key, replication).
func (c *rpcClient) storagePut(ctx context.Context, peer Peer, key RawKey, replication uint8, ttl uint16, value []byte) error {
	req := &StoragePut{TTL: ttl, Replication: replication, Key: key, Value: value}
	reply, err := c.exchange(ctx, peer, req)
	if err != nil {
		return err
	}
	switch reply.(type) {
	case *StoragePutSuccess:
		return nil
	case *StorageFailure:
		return fmt.Errorf("put at %s: %w", peer.Addr, ErrStorageRejected)
	default:
		return fmt.Errorf("peer %s answered STORAGE PUT with type %d", peer.Addr, reply.Type())
	}
}

// storageGet fetches (key, replication) from peer. A STORAGE FAILURE is a
// plain miss, not an error: peers answer it both for absent keys and for
// keys outside their arc.
func (c *rpcClient) storageGet(ctx context.Context, peer Peer, key RawKey, replication uint8) ([]byte, bool, error) {
	reply, err := c.exchange(ctx, peer, &StorageGet{Replication: replication, Key: key})
	if err != nil {
		return nil, false, err
	}
	switch m := reply.(type) {
	case *StorageGetSuccess:
		return m.Value, true, nil
	case *StorageFailure:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("peer %s answered STORAGE GET with type %d", peer.Addr, reply.Type())
	}
}

// FindSuccessor resolves the peer responsible for id, starting from local
// routing state and walking remote hops as needed.
func (n *Node) FindSuccessor(ctx context.Context, id Identifier) (Peer, error) {
	self := n.rt.Self()
	if n.rt.Responsible(id) {
		return self, nil
	}
	if inOpenClosed(id, self.ID, n.rt.Successor().ID) {
		return n.rt.Successor(), nil
	}
	start := n.rt.ClosestPreceding(id)
	if start.Equal(self) {
		return self, nil
	}
	return n.findSuccessorFrom(ctx, start, id)
}

// findSuccessorFrom walks the ring from start until a peer claims id by
// answering with itself. It also seeds the bootstrap join, where start is
// the bootstrap peer rather than anything in our own table.
func (n *Node) findSuccessorFrom(ctx context.Context, start Peer, id Identifier) (Peer, error) {
	self := n.rt.Self()
	visited := make(map[Identifier]struct{})
	current := start
	for hop := 0; hop < lookupHopBudget; hop++ {
		next, err := n.rpc.findNext(ctx, current, id)
		if err != nil {
			return Peer{}, utils.Wrapf(err, "find successor of %s", id.Short())
		}
		if next.Equal(current) {
			// the queried peer owns id
			return current, nil
		}
		if next.Equal(self) {
			return current, nil
		}
		if _, seen := visited[next.ID]; seen {
			n.log.WithFields(logrus.Fields{"id": id.Short(), "peer": next.String()}).Debug("lookup revisited peer, converging")
			return current, nil
		}
		visited[current.ID] = struct{}{}
		current = next
	}
	return Peer{}, fmt.Errorf("find successor of %s after %d hops: %w", id.Short(), lookupHopBudget, ErrLookupDiverged)
}
