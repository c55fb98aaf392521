package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net/netip"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	peer := PeerFromAddrPort(netip.MustParseAddrPort("127.0.0.1:31415"))
	cases := []struct {
		name string
		msg  Message
	}{
		{"storage get", &StorageGet{Replication: 3, Key: rawKeyWithByte(0xAA)}},
		{"storage put", &StoragePut{TTL: 900, Replication: 1, Key: rawKeyWithByte(0x01), Value: []byte("hello")}},
		{"storage put empty value", &StoragePut{Key: rawKeyWithByte(0x02)}},
		{"storage get success", &StorageGetSuccess{Key: rawKeyWithByte(0x03), Value: []byte{0xDE, 0xAD}}},
		{"storage put success", &StoragePutSuccess{Key: rawKeyWithByte(0x04)}},
		{"storage failure", &StorageFailure{Key: rawKeyWithByte(0x05)}},
		{"peer find", &PeerFind{ID: idWithByte(0x10)}},
		{"peer found", &PeerFound{ID: idWithByte(0x11), Peer: peer}},
		{"predecessor notify", &PredecessorNotify{Peer: peer}},
		{"predecessor reply", &PredecessorReply{Peer: peer}},
		{"dht put", &DHTPut{TTL: 60, Replication: 2, Key: rawKeyWithByte(0x20), Value: []byte("v")}},
		{"dht get", &DHTGet{Key: rawKeyWithByte(0x21)}},
		{"dht success", &DHTSuccess{Key: rawKeyWithByte(0x22), Value: []byte("found")}},
		{"dht failure", &DHTFailure{Key: rawKeyWithByte(0x23)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := Encode(tc.msg)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if got := binary.BigEndian.Uint16(frame[:2]); int(got) != len(frame) {
				t.Fatalf("size field %d, frame length %d", got, len(frame))
			}
			decoded, err := ReadMessage(bytes.NewReader(frame))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Type() != tc.msg.Type() {
				t.Fatalf("type changed: %d -> %d", tc.msg.Type(), decoded.Type())
			}
			reencoded, err := Encode(decoded)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			if !bytes.Equal(frame, reencoded) {
				t.Fatalf("round trip not byte-stable:\n  %x\n  %x", frame, reencoded)
			}
		})
	}
}

func TestStoragePutFrameLayout(t *testing.T) {
	msg := &StoragePut{TTL: 0x0102, Replication: 7, Key: rawKeyWithByte(0xEE), Value: []byte{0xCA, 0xFE}}
	frame, err := Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(frame) != 42 {
		t.Fatalf("frame length %d, want 42", len(frame))
	}
	if binary.BigEndian.Uint16(frame[2:4]) != 1001 {
		t.Fatalf("type field %d, want 1001", binary.BigEndian.Uint16(frame[2:4]))
	}
	if frame[4] != 0x01 || frame[5] != 0x02 {
		t.Fatalf("ttl bytes %x %x", frame[4], frame[5])
	}
	if frame[6] != 7 {
		t.Fatalf("replication byte %d, want 7", frame[6])
	}
	if frame[7] != 0 {
		t.Fatalf("reserved byte %d, want 0", frame[7])
	}
	if frame[8] != 0xEE {
		t.Fatalf("key start %x, want ee", frame[8])
	}
	if !bytes.Equal(frame[40:], []byte{0xCA, 0xFE}) {
		t.Fatalf("value bytes %x", frame[40:])
	}
}

func TestReadMessageFramingErrors(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
	}{
		{"size below header", []byte{0x00, 0x02, 0x03, 0xE8}},
		{"unknown type", append([]byte{0x00, 0x24, 0x27, 0x0F}, make([]byte, 32)...)},
		{"peer find short body", append([]byte{0x00, 0x14, 0x04, 0x1A}, make([]byte, 16)...)},
		{"notify wrong body length", append([]byte{0x00, 0x15, 0x04, 0x1C}, make([]byte, 17)...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadMessage(bytes.NewReader(tc.frame))
			if !errors.Is(err, ErrFraming) {
				t.Fatalf("err = %v, want framing error", err)
			}
		})
	}
}

func TestReadMessageTruncatedStream(t *testing.T) {
	frame, err := Encode(&PeerFind{ID: idWithByte(9)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = ReadMessage(bytes.NewReader(frame[:10]))
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
	_, err = ReadMessage(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("empty stream err = %v, want EOF", err)
	}
}

func TestEncodeOversizeValue(t *testing.T) {
	msg := &StoragePut{Key: rawKeyWithByte(1), Value: make([]byte, MaxValueLen+1)}
	if _, err := Encode(msg); !errors.Is(err, ErrFraming) {
		t.Fatalf("err = %v, want framing error", err)
	}
	fits := &StoragePut{Key: rawKeyWithByte(1), Value: make([]byte, MaxValueLen)}
	if _, err := Encode(fits); err != nil {
		t.Fatalf("value at capacity should encode, got %v", err)
	}
}
