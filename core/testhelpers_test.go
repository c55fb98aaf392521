package core

import (
	"context"
	"sort"
	"testing"
	"time"
)

// testNode starts a node on loopback with a long stabilization interval so
// tests drive ticks by hand.
func testNode(t *testing.T, bootstrap string) *Node {
	t.Helper()
	n, err := NewNode(Config{
		ListenAddr:            "127.0.0.1:0",
		APIAddr:               "127.0.0.1:0",
		Bootstrap:             bootstrap,
		WorkerThreads:         4,
		Timeout:               2 * time.Second,
		Fingers:               8,
		StabilizationInterval: time.Hour,
		Replication:           1,
	})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { _ = n.Close() })
	return n
}

// ringOf builds a wired ring out of started nodes: successors and
// predecessors are installed directly, no stabilization needed.
func ringOf(t *testing.T, count int) []*Node {
	t.Helper()
	nodes := make([]*Node, count)
	for i := range nodes {
		nodes[i] = testNode(t, "")
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Self().ID.cmp(nodes[j].Self().ID) < 0
	})
	for i, n := range nodes {
		next := nodes[(i+1)%count]
		prev := nodes[(i+count-1)%count]
		n.rt.SetSuccessor(next.Self())
		n.rt.SetPredecessor(prev.Self())
	}
	return nodes
}

// ringSuccessor returns the node of the wired ring responsible for id.
func ringSuccessor(nodes []*Node, id Identifier) *Node {
	for _, n := range nodes {
		pred, _ := n.rt.Predecessor()
		if inOpenClosed(id, pred.ID, n.Self().ID) {
			return n
		}
	}
	return nil
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// idWithByte builds an identifier whose leading byte is b.
func idWithByte(b byte) Identifier {
	var id Identifier
	id[0] = b
	return id
}

func rawKeyWithByte(b byte) RawKey {
	var k RawKey
	k[0] = b
	return k
}
