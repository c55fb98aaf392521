package core

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func dialAPI(t *testing.T, n *Node) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", n.APIAddr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial api: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestAPISingletonPutGet(t *testing.T) {
	n := testNode(t, "")
	conn := dialAPI(t, n)

	var key RawKey // all zeroes
	if err := WriteMessage(conn, &DHTPut{TTL: 0, Replication: 1, Key: key, Value: []byte("hello")}); err != nil {
		t.Fatalf("write put: %v", err)
	}
	// puts answer nothing on success; the following get is serialized
	// behind the put on the same connection
	if err := WriteMessage(conn, &DHTGet{Key: key}); err != nil {
		t.Fatalf("write get: %v", err)
	}
	reply, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	success, ok := reply.(*DHTSuccess)
	if !ok {
		t.Fatalf("reply type %d, want DHT SUCCESS", reply.Type())
	}
	if success.Key != key {
		t.Fatal("reply echoes a different key")
	}
	if !bytes.Equal(success.Value, []byte("hello")) {
		t.Fatalf("value = %q", success.Value)
	}
}

func TestAPIGetMissAnswersFailure(t *testing.T) {
	n := testNode(t, "")
	conn := dialAPI(t, n)

	key := rawKeyWithByte(0xAB)
	if err := WriteMessage(conn, &DHTGet{Key: key}); err != nil {
		t.Fatalf("write get: %v", err)
	}
	reply, err := ReadMessage(conn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	failure, ok := reply.(*DHTFailure)
	if !ok {
		t.Fatalf("reply type %d, want DHT FAILURE", reply.Type())
	}
	if failure.Key != key {
		t.Fatal("failure echoes a different key")
	}
}

func TestAPIRejectsPeerMessages(t *testing.T) {
	n := testNode(t, "")
	conn := dialAPI(t, n)

	if err := WriteMessage(conn, &PeerFind{ID: idWithByte(1)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMessage(conn); err == nil {
		t.Fatal("api port must drop connections that speak the peer protocol")
	}
}
