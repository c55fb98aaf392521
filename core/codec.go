package core

// codec.go – binary framing for the peer-to-peer and client protocols.
//
// Every frame starts with a 4-byte header: total frame length (u16) and
// message type (u16), both network byte order. The body layouts are fixed
// per type; reserved bytes are written as zero and ignored on receive.
// Anything that does not parse is a framing error and the connection that
// produced it gets closed by the caller.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
)

// RawKey is the opaque 256-bit key handed in by API clients.
type RawKey [32]byte

// MessageType discriminates frame bodies.
type MessageType uint16

const (
	// Client (northbound) protocol.
	MsgDHTPut     MessageType = 650
	MsgDHTGet     MessageType = 651
	MsgDHTSuccess MessageType = 652
	MsgDHTFailure MessageType = 653

	// Peer storage protocol.
	MsgStorageGet        MessageType = 1000
	MsgStoragePut        MessageType = 1001
	MsgStorageGetSuccess MessageType = 1002
	MsgStoragePutSuccess MessageType = 1003
	MsgStorageFailure    MessageType = 1004

	// Peer routing protocol.
	MsgPeerFind          MessageType = 1050
	MsgPeerFound         MessageType = 1051
	MsgPredecessorNotify MessageType = 1052
	MsgPredecessorReply  MessageType = 1053
)

const (
	frameHeaderLen = 4
	maxFrameLen    = 1<<16 - 1

	// MaxValueLen bounds stored values so a STORAGE PUT always fits one frame.
	MaxValueLen = maxFrameLen - frameHeaderLen - 4 - len(RawKey{})
)

// ErrFraming is the base class of every decode failure. Connections that
// surface it carry no recoverable state and must be dropped.
var ErrFraming = errors.New("malformed frame")

func framingErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFraming, fmt.Sprintf(format, args...))
}

// Message is one decoded protocol frame.
type Message interface {
	Type() MessageType
	appendBody(dst []byte) []byte
}

// StorageGet asks the receiver for the value stored under (Key, Replication).
type StorageGet struct {
	Replication uint8
	Key         RawKey
}

// StoragePut asks the receiver to store Value under (Key, Replication).
// TTL is carried on the wire but not yet honored by the store.
type StoragePut struct {
	TTL         uint16
	Replication uint8
	Key         RawKey
	Value       []byte
}

// StorageGetSuccess returns a stored value.
type StorageGetSuccess struct {
	Key   RawKey
	Value []byte
}

// StoragePutSuccess acknowledges an accepted put.
type StoragePutSuccess struct {
	Key RawKey
}

// StorageFailure reports a miss or a refused request for Key. It is
// advisory: peers need not send it and clients must not require it.
type StorageFailure struct {
	Key RawKey
}

// PeerFind asks the receiver for its best next hop toward ID.
type PeerFind struct {
	ID Identifier
}

// PeerFound answers a PeerFind. Peer is the best next hop; a receiver that
// answers with itself is claiming responsibility for ID.
type PeerFound struct {
	ID   Identifier
	Peer Peer
}

// PredecessorNotify tells the receiver about a node that believes it may be
// the receiver's predecessor.
type PredecessorNotify struct {
	Peer Peer
}

// PredecessorReply carries the receiver's current predecessor, or the
// receiver itself when it has none.
type PredecessorReply struct {
	Peer Peer
}

// DHTPut is the client request to store Value under Key at Replication
// distinct ring positions.
type DHTPut struct {
	TTL         uint16
	Replication uint8
	Key         RawKey
	Value       []byte
}

// DHTGet is the client request to look Key up.
type DHTGet struct {
	Key RawKey
}

// DHTSuccess answers a DHTGet with the found value.
type DHTSuccess struct {
	Key   RawKey
	Value []byte
}

// DHTFailure tells the client the request could not be satisfied.
type DHTFailure struct {
	Key RawKey
}

func (m *StorageGet) Type() MessageType        { return MsgStorageGet }
func (m *StoragePut) Type() MessageType        { return MsgStoragePut }
func (m *StorageGetSuccess) Type() MessageType { return MsgStorageGetSuccess }
func (m *StoragePutSuccess) Type() MessageType { return MsgStoragePutSuccess }
func (m *StorageFailure) Type() MessageType    { return MsgStorageFailure }
func (m *PeerFind) Type() MessageType          { return MsgPeerFind }
func (m *PeerFound) Type() MessageType         { return MsgPeerFound }
func (m *PredecessorNotify) Type() MessageType { return MsgPredecessorNotify }
func (m *PredecessorReply) Type() MessageType  { return MsgPredecessorReply }
func (m *DHTPut) Type() MessageType            { return MsgDHTPut }
func (m *DHTGet) Type() MessageType            { return MsgDHTGet }
func (m *DHTSuccess) Type() MessageType        { return MsgDHTSuccess }
func (m *DHTFailure) Type() MessageType        { return MsgDHTFailure }

func (m *StorageGet) appendBody(dst []byte) []byte {
	dst = append(dst, m.Replication, 0, 0, 0)
	return append(dst, m.Key[:]...)
}

func (m *StoragePut) appendBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, m.TTL)
	dst = append(dst, m.Replication, 0)
	dst = append(dst, m.Key[:]...)
	return append(dst, m.Value...)
}

func (m *StorageGetSuccess) appendBody(dst []byte) []byte {
	dst = append(dst, m.Key[:]...)
	return append(dst, m.Value...)
}

func (m *StoragePutSuccess) appendBody(dst []byte) []byte {
	return append(dst, m.Key[:]...)
}

func (m *StorageFailure) appendBody(dst []byte) []byte {
	return append(dst, m.Key[:]...)
}

func (m *PeerFind) appendBody(dst []byte) []byte {
	return append(dst, m.ID[:]...)
}

func (m *PeerFound) appendBody(dst []byte) []byte {
	dst = append(dst, m.ID[:]...)
	return appendAddrPort(dst, m.Peer.Addr)
}

func (m *PredecessorNotify) appendBody(dst []byte) []byte {
	return appendAddrPort(dst, m.Peer.Addr)
}

func (m *PredecessorReply) appendBody(dst []byte) []byte {
	return appendAddrPort(dst, m.Peer.Addr)
}

func (m *DHTPut) appendBody(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, m.TTL)
	dst = append(dst, m.Replication, 0)
	dst = append(dst, m.Key[:]...)
	return append(dst, m.Value...)
}

func (m *DHTGet) appendBody(dst []byte) []byte {
	return append(dst, m.Key[:]...)
}

func (m *DHTSuccess) appendBody(dst []byte) []byte {
	dst = append(dst, m.Key[:]...)
	return append(dst, m.Value...)
}

func (m *DHTFailure) appendBody(dst []byte) []byte {
	return append(dst, m.Key[:]...)
}

// appendAddrPort writes the canonical 18-byte endpoint encoding: IPv6
// address (IPv4 endpoints mapped to ::ffff:a.b.c.d) plus big-endian port.
func appendAddrPort(dst []byte, ap netip.AddrPort) []byte {
	canon := canonicalAddrBytes(ap)
	return append(dst, canon[:]...)
}

// consumeAddrPort decodes the 18-byte endpoint encoding and derives the
// full peer identity from it.
func consumeAddrPort(b []byte) Peer {
	var raw [16]byte
	copy(raw[:], b[:16])
	port := binary.BigEndian.Uint16(b[16:18])
	return PeerFromAddrPort(netip.AddrPortFrom(netip.AddrFrom16(raw), port))
}

// Encode renders m as a single wire frame.
func Encode(m Message) ([]byte, error) {
	buf := make([]byte, frameHeaderLen, frameHeaderLen+64)
	buf = m.appendBody(buf)
	if len(buf) > maxFrameLen {
		return nil, framingErr("message type %d length %d exceeds frame limit", m.Type(), len(buf))
	}
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(buf)))
	binary.BigEndian.PutUint16(buf[2:4], uint16(m.Type()))
	return buf, nil
}

// WriteMessage encodes m and writes the frame in one call.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %d frame: %w", m.Type(), err)
	}
	return nil
}

// ReadMessage reads exactly one frame from r and decodes it.
func ReadMessage(r io.Reader) (Message, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(header[0:2])
	mtype := MessageType(binary.BigEndian.Uint16(header[2:4]))
	if int(size) < frameHeaderLen {
		return nil, framingErr("frame size %d below header length", size)
	}
	body := make([]byte, int(size)-frameHeaderLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, framingErr("short body for type %d: %v", mtype, err)
	}
	return decodeBody(mtype, body)
}

func decodeBody(mtype MessageType, body []byte) (Message, error) {
	const keyLen = len(RawKey{})
	switch mtype {
	case MsgStorageGet:
		if len(body) != 4+keyLen {
			return nil, framingErr("STORAGE GET body length %d", len(body))
		}
		m := &StorageGet{Replication: body[0]}
		copy(m.Key[:], body[4:])
		return m, nil

	case MsgStoragePut:
		if len(body) < 4+keyLen {
			return nil, framingErr("STORAGE PUT body length %d", len(body))
		}
		m := &StoragePut{
			TTL:         binary.BigEndian.Uint16(body[0:2]),
			Replication: body[2],
			Value:       append([]byte(nil), body[4+keyLen:]...),
		}
		copy(m.Key[:], body[4:4+keyLen])
		return m, nil

	case MsgStorageGetSuccess:
		if len(body) < keyLen {
			return nil, framingErr("STORAGE GET SUCCESS body length %d", len(body))
		}
		m := &StorageGetSuccess{Value: append([]byte(nil), body[keyLen:]...)}
		copy(m.Key[:], body[:keyLen])
		return m, nil

	case MsgStoragePutSuccess:
		if len(body) != keyLen {
			return nil, framingErr("STORAGE PUT SUCCESS body length %d", len(body))
		}
		m := &StoragePutSuccess{}
		copy(m.Key[:], body)
		return m, nil

	case MsgStorageFailure:
		if len(body) != keyLen {
			return nil, framingErr("STORAGE FAILURE body length %d", len(body))
		}
		m := &StorageFailure{}
		copy(m.Key[:], body)
		return m, nil

	case MsgPeerFind:
		if len(body) != keyLen {
			return nil, framingErr("PEER FIND body length %d", len(body))
		}
		m := &PeerFind{}
		copy(m.ID[:], body)
		return m, nil

	case MsgPeerFound:
		if len(body) != keyLen+18 {
			return nil, framingErr("PEER FOUND body length %d", len(body))
		}
		m := &PeerFound{Peer: consumeAddrPort(body[keyLen:])}
		copy(m.ID[:], body[:keyLen])
		return m, nil

	case MsgPredecessorNotify:
		if len(body) != 18 {
			return nil, framingErr("PREDECESSOR NOTIFY body length %d", len(body))
		}
		return &PredecessorNotify{Peer: consumeAddrPort(body)}, nil

	case MsgPredecessorReply:
		if len(body) != 18 {
			return nil, framingErr("PREDECESSOR REPLY body length %d", len(body))
		}
		return &PredecessorReply{Peer: consumeAddrPort(body)}, nil

	case MsgDHTPut:
		if len(body) < 4+keyLen {
			return nil, framingErr("DHT PUT body length %d", len(body))
		}
		m := &DHTPut{
			TTL:         binary.BigEndian.Uint16(body[0:2]),
			Replication: body[2],
			Value:       append([]byte(nil), body[4+keyLen:]...),
		}
		copy(m.Key[:], body[4:4+keyLen])
		return m, nil

	case MsgDHTGet:
		if len(body) != keyLen {
			return nil, framingErr("DHT GET body length %d", len(body))
		}
		m := &DHTGet{}
		copy(m.Key[:], body)
		return m, nil

	case MsgDHTSuccess:
		if len(body) < keyLen {
			return nil, framingErr("DHT SUCCESS body length %d", len(body))
		}
		m := &DHTSuccess{Value: append([]byte(nil), body[keyLen:]...)}
		copy(m.Key[:], body[:keyLen])
		return m, nil

	case MsgDHTFailure:
		if len(body) != keyLen {
			return nil, framingErr("DHT FAILURE body length %d", len(body))
		}
		m := &DHTFailure{}
		copy(m.Key[:], body)
		return m, nil
	}
	return nil, framingErr("unknown message type %d", mtype)
}
