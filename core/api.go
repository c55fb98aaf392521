package core

// api.go – northbound entry points and the local client endpoint.
//
// Local applications speak the framed DHT PUT / DHT GET protocol on the
// API address. Each request fans out over the replication indices: index r
// of a raw key lives at SHA-256(key || r), each resolved and routed
// independently. A put answers nothing on success and DHT FAILURE when it
// cannot be satisfied; a get answers DHT SUCCESS or DHT FAILURE.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrNotFound is returned by Get when no replication index yields a value.
var ErrNotFound = errors.New("dht: value not found")

// Put stores value under key at every replication index in [0, replication).
// A replication count of zero still stores one copy.
func (n *Node) Put(ctx context.Context, key RawKey, ttl uint16, replication uint8, value []byte) error {
	if replication == 0 {
		replication = 1
	}
	self := n.rt.Self()
	for r := uint8(0); r < replication; r++ {
		id := StorageID(key, r)
		owner, err := n.FindSuccessor(ctx, id)
		if err != nil {
			return fmt.Errorf("put replica %d: %w", r, err)
		}
		if owner.Equal(self) {
			err = n.store.Put(key, r, ttl, value)
		} else {
			err = n.rpc.storagePut(ctx, owner, key, r, ttl, value)
		}
		if err != nil {
			return fmt.Errorf("put replica %d at %s: %w", r, owner.String(), err)
		}
	}
	return nil
}

// Get looks key up across replication indices and returns the first value
// found.
func (n *Node) Get(ctx context.Context, key RawKey, replication uint8) ([]byte, error) {
	if replication == 0 {
		replication = 1
	}
	self := n.rt.Self()
	var lastErr error
	for r := uint8(0); r < replication; r++ {
		id := StorageID(key, r)
		owner, err := n.FindSuccessor(ctx, id)
		if err != nil {
			lastErr = err
			continue
		}
		if owner.Equal(self) {
			value, ok, err := n.store.Get(key, r)
			if err == nil && ok {
				return value, nil
			}
			continue
		}
		value, ok, err := n.rpc.storageGet(ctx, owner, key, r)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return value, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w (last error: %v)", ErrNotFound, lastErr)
	}
	return nil, ErrNotFound
}

// serveAPI accepts local client connections until the listener closes.
func (n *Node) serveAPI(ctx context.Context) error {
	for {
		conn, err := n.apiLn.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go n.handleAPIConn(ctx, conn)
	}
}

// handleAPIConn serves framed client requests on one connection.
func (n *Node) handleAPIConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := n.log.WithField("client", conn.RemoteAddr().String())
	for {
		_ = conn.SetReadDeadline(time.Now().Add(n.cfg.Timeout))
		req, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).Debug("api connection closed")
			}
			return
		}
		var reply Message
		switch m := req.(type) {
		case *DHTPut:
			if err := n.Put(ctx, m.Key, m.TTL, m.Replication, m.Value); err != nil {
				log.WithError(err).Info("api put failed")
				reply = &DHTFailure{Key: m.Key}
			}
		case *DHTGet:
			value, err := n.Get(ctx, m.Key, n.cfg.Replication)
			if err != nil {
				reply = &DHTFailure{Key: m.Key}
			} else {
				reply = &DHTSuccess{Key: m.Key, Value: value}
			}
		default:
			log.WithField("type", uint16(req.Type())).Warn("message type not served on the api port")
			return
		}
		if reply == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(n.cfg.Timeout))
		if err := WriteMessage(conn, reply); err != nil {
			log.WithError(err).Debug("failed to write api reply")
			return
		}
	}
}
