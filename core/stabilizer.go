package core

// stabilizer.go – periodic self-healing of the ring pointers.
//
// Each tick does two things, in order: refresh the successor by notifying
// it of our existence, then repair one finger table entry. Fingers heal
// round-robin, one per tick, so a table of F entries converges within F
// ticks of the ring going quiet.

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// runStabilizer drives stabilization until the context is canceled.
func (n *Node) runStabilizer(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.StabilizationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.stabilizeTick(ctx)
		}
	}
}

func (n *Node) stabilizeTick(ctx context.Context) {
	n.stabilizeSuccessor(ctx)
	n.fixNextFinger(ctx)
}

// stabilizeSuccessor announces this node to its successor and adopts any
// better successor the reply reveals. The reply carries the successor's
// predecessor; a node sitting between us and the successor is a closer
// successor than the one we have.
func (n *Node) stabilizeSuccessor(ctx context.Context) {
	self := n.rt.Self()
	successor := n.rt.Successor()
	if successor.Equal(self) {
		// Singleton view: anyone who notified us is a better successor
		// than ourselves.
		if pred, ok := n.rt.Predecessor(); ok && !pred.Equal(self) {
			n.rt.SetSuccessor(pred)
			n.log.WithField("successor", pred.String()).Info("left singleton state")
		}
		return
	}
	x, err := n.rpc.notify(ctx, successor, self)
	if err != nil {
		n.log.WithError(err).WithField("successor", successor.String()).Warn("stabilization notify failed")
		return
	}
	if inOpenOpen(x.ID, self.ID, successor.ID) {
		n.rt.SetSuccessor(x)
		n.log.WithFields(logrus.Fields{"old": successor.String(), "new": x.String()}).Info("adopted closer successor")
	}
}

// fixNextFinger repairs one finger entry and advances the rotation index.
func (n *Node) fixNextFinger(ctx context.Context) {
	i := n.nextFinger
	n.nextFinger = (n.nextFinger + 1) % n.rt.NumFingers()
	target := n.rt.Self().ID.Offset(uint(i))
	p, err := n.FindSuccessor(ctx, target)
	if err != nil {
		n.log.WithError(err).WithField("finger", i).Warn("finger fix-up failed")
		return
	}
	n.rt.SetFinger(i, p)
}

// join bootstraps ring membership via a known peer: the predecessor stays
// unknown and the successor is whoever the bootstrap peer resolves for our
// own identifier. Stabilization fills in the rest.
func (n *Node) join(ctx context.Context, bootstrap Peer) error {
	n.rt.ClearPredecessor()
	successor, err := n.findSuccessorFrom(ctx, bootstrap, n.rt.Self().ID)
	if err != nil {
		return err
	}
	n.rt.SetSuccessor(successor)
	n.log.WithFields(logrus.Fields{"bootstrap": bootstrap.String(), "successor": successor.String()}).Info("joined ring")
	return nil
}
