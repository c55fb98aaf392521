package core

import (
	"net"
	"net/netip"
	"testing"
	"time"
)

func dialPeerPort(t *testing.T, n *Node) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", n.Self().DialAddr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial peer port: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestHandlerServesMultipleRequestsPerConnection(t *testing.T) {
	n := testNode(t, "")
	conn := dialPeerPort(t, n)

	for i := 0; i < 3; i++ {
		id := idWithByte(byte(0x30 + i))
		if err := WriteMessage(conn, &PeerFind{ID: id}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		reply, err := ReadMessage(conn)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		found, ok := reply.(*PeerFound)
		if !ok {
			t.Fatalf("reply type %d, want PEER FOUND", reply.Type())
		}
		if found.ID != id {
			t.Fatalf("reply identifier %s, want %s", found.ID.Short(), id.Short())
		}
		if !found.Peer.Equal(n.Self()) {
			t.Fatalf("singleton answered %s instead of itself", found.Peer.String())
		}
	}
}

func TestHandlerFramingErrorClosesConnection(t *testing.T) {
	n := testNode(t, "")
	conn := dialPeerPort(t, n)

	// unknown message type
	frame := append([]byte{0x00, 0x08, 0x27, 0x0F}, 0, 0, 0, 0)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMessage(conn); err == nil {
		t.Fatal("connection should be closed after a framing error")
	}
}

func TestPeerPortRejectsAPIMessages(t *testing.T) {
	n := testNode(t, "")
	conn := dialPeerPort(t, n)

	if err := WriteMessage(conn, &DHTGet{Key: rawKeyWithByte(1)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMessage(conn); err == nil {
		t.Fatal("peer port must drop connections that speak the client protocol")
	}
}

func TestStoragePutRejectedOutsideArc(t *testing.T) {
	nodes := ringOf(t, 2)

	// find a key owned by nodes[1] and offer it to nodes[0]
	var key RawKey
	found := false
	for b := 0; b < 1<<16; b++ {
		key = rawKeyWithByte(byte(b))
		key[1] = byte(b >> 8)
		if ringSuccessor(nodes, StorageID(key, 0)) == nodes[1] {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("no probe key landed on nodes[1]")
	}

	conn := dialPeerPort(t, nodes[0])
	if err := WriteMessage(conn, &StoragePut{Key: key, Value: []byte("misrouted")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := reply.(*StorageFailure); !ok {
		t.Fatalf("reply type %d, want STORAGE FAILURE", reply.Type())
	}
	if nodes[0].store.Len() != 0 {
		t.Fatal("misrouted record must not be stored")
	}

	// the rightful owner accepts it
	conn2 := dialPeerPort(t, nodes[1])
	if err := WriteMessage(conn2, &StoragePut{Key: key, Value: []byte("routed")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err = ReadMessage(conn2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := reply.(*StoragePutSuccess); !ok {
		t.Fatalf("reply type %d, want STORAGE PUT SUCCESS", reply.Type())
	}
}

func TestStorageGetMissAnswersFailure(t *testing.T) {
	n := testNode(t, "")
	conn := dialPeerPort(t, n)

	key := rawKeyWithByte(0x55)
	if err := WriteMessage(conn, &StorageGet{Key: key}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	failure, ok := reply.(*StorageFailure)
	if !ok {
		t.Fatalf("reply type %d, want STORAGE FAILURE", reply.Type())
	}
	if failure.Key != key {
		t.Fatal("failure echoes a different key")
	}
}

func TestPredecessorNotifyAdoptsAndReplies(t *testing.T) {
	n := testNode(t, "")
	conn := dialPeerPort(t, n)

	candidate := PeerFromAddrPort(netip.MustParseAddrPort("127.0.0.1:39999"))
	if err := WriteMessage(conn, &PredecessorNotify{Peer: candidate}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pr, ok := reply.(*PredecessorReply)
	if !ok {
		t.Fatalf("reply type %d, want PREDECESSOR REPLY", reply.Type())
	}
	// first notify on a fresh node: the candidate itself is now the
	// predecessor and the reply carries it
	if !pr.Peer.Equal(candidate) {
		t.Fatalf("reply peer %s, want the adopted candidate", pr.Peer.String())
	}
	if pred, ok := n.rt.Predecessor(); !ok || !pred.Equal(candidate) {
		t.Fatal("candidate was not adopted as predecessor")
	}
}
