package core

// peer.go – ring membership identity.
//
// A peer is the value pair (identifier, socket address). The identifier is
// derived from the canonical wire form of the address: the 16-byte IPv6
// representation (IPv4 endpoints are IPv4-mapped) followed by the port in
// network byte order. Those 18 bytes are exactly what PEER FOUND and the
// predecessor messages carry, so hashing them keeps every node's view of a
// peer's identifier consistent.

import (
	"fmt"
	"net"
	"net/netip"
)

// Peer identifies a node on the ring. Peers are plain value copies; they
// never hold live connections.
type Peer struct {
	ID   Identifier     `json:"id"`
	Addr netip.AddrPort `json:"addr"`
}

// canonicalAddrBytes renders the address in the canonical hashed/wire form.
func canonicalAddrBytes(ap netip.AddrPort) [18]byte {
	var out [18]byte
	b := ap.Addr().As16()
	copy(out[:16], b[:])
	out[16] = byte(ap.Port() >> 8)
	out[17] = byte(ap.Port())
	return out
}

// PeerFromAddrPort derives a peer from its socket address.
func PeerFromAddrPort(ap netip.AddrPort) Peer {
	canon := canonicalAddrBytes(ap)
	return Peer{ID: IdentifierFromBytes(canon[:]), Addr: ap}
}

// ResolvePeer resolves a host:port string, performing a DNS lookup if the
// host part is not a literal address, and derives the peer identity from
// the resolved endpoint.
func ResolvePeer(hostport string) (Peer, error) {
	if ap, err := netip.ParseAddrPort(hostport); err == nil {
		return PeerFromAddrPort(ap), nil
	}
	tcp, err := net.ResolveTCPAddr("tcp", hostport)
	if err != nil {
		return Peer{}, fmt.Errorf("resolve peer %q: %w", hostport, err)
	}
	ip, ok := netip.AddrFromSlice(tcp.IP)
	if !ok {
		return Peer{}, fmt.Errorf("resolve peer %q: unusable address %v", hostport, tcp.IP)
	}
	return PeerFromAddrPort(netip.AddrPortFrom(ip, uint16(tcp.Port))), nil
}

// Equal compares peers by identifier.
func (p Peer) Equal(other Peer) bool {
	return p.ID == other.ID
}

// DialAddr returns the address in a form accepted by net.Dial.
func (p Peer) DialAddr() string {
	return p.Addr.String()
}

// String renders the peer for log output.
func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.ID.Short(), p.Addr)
}
