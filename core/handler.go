package core

// handler.go – inbound peer connection servicing.
//
// The peer listener feeds a bounded worker pool. Each worker owns one
// connection at a time and runs a strict read/dispatch/reply loop: the
// protocol is request/reply with no multiplexing, so there is never more
// than one outstanding request per connection. Framing and socket errors
// kill the offending connection and nothing else.

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// servePeers accepts ring-facing connections until the listener closes.
func (n *Node) servePeers(ctx context.Context) error {
	for {
		conn, err := n.peerLn.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := n.workers.Acquire(ctx, 1); err != nil {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer n.workers.Release(1)
			n.handlePeerConn(conn)
		}()
	}
}

// handlePeerConn runs the request/reply loop for one inbound connection.
// Idle connections are closed after the configured timeout.
func (n *Node) handlePeerConn(conn net.Conn) {
	defer conn.Close()
	log := n.log.WithField("remote", conn.RemoteAddr().String())
	for {
		_ = conn.SetReadDeadline(time.Now().Add(n.cfg.Timeout))
		req, err := ReadMessage(conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, ErrFraming):
				log.WithError(err).Warn("dropping peer connection after framing error")
			default:
				log.WithError(err).Debug("peer connection closed")
			}
			return
		}
		reply := n.dispatchPeer(req, log)
		if reply == nil {
			log.WithField("type", uint16(req.Type())).Warn("message type not served on the peer port")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(n.cfg.Timeout))
		if err := WriteMessage(conn, reply); err != nil {
			log.WithError(err).Debug("failed to write reply")
			return
		}
	}
}

// dispatchPeer produces the reply for one ring request. A nil reply tells
// the caller to drop the connection.
func (n *Node) dispatchPeer(req Message, log *logrus.Entry) Message {
	switch m := req.(type) {
	case *StorageGet:
		value, ok, err := n.store.Get(m.Key, m.Replication)
		if err != nil || !ok {
			return &StorageFailure{Key: m.Key}
		}
		return &StorageGetSuccess{Key: m.Key, Value: value}

	case *StoragePut:
		if err := n.store.Put(m.Key, m.Replication, m.TTL, m.Value); err != nil {
			log.WithError(err).WithField("key", StorageID(m.Key, m.Replication).Short()).Debug("storage put refused")
			return &StorageFailure{Key: m.Key}
		}
		return &StoragePutSuccess{Key: m.Key}

	case *PeerFind:
		// Answering with ourselves is the claim of responsibility that
		// ends the caller's iteration; anything else is just a hop.
		if n.rt.Responsible(m.ID) {
			return &PeerFound{ID: m.ID, Peer: n.rt.Self()}
		}
		self := n.rt.Self()
		successor := n.rt.Successor()
		if inOpenClosed(m.ID, self.ID, successor.ID) {
			return &PeerFound{ID: m.ID, Peer: successor}
		}
		return &PeerFound{ID: m.ID, Peer: n.rt.ClosestPreceding(m.ID)}

	case *PredecessorNotify:
		if n.rt.MaybeUpdatePredecessor(m.Peer) {
			log.WithField("predecessor", m.Peer.String()).Info("adopted new predecessor")
		}
		reply := &PredecessorReply{Peer: n.rt.Self()}
		if pred, ok := n.rt.Predecessor(); ok {
			reply.Peer = pred
		}
		return reply
	}
	return nil
}
