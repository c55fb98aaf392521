package core

// identifier.go – 256-bit identifier circle arithmetic.
//
// Every key and node identifier lives on the circle [0, 2^256). Arc
// membership is what decides storage responsibility and lookup routing,
// so the two predicates here are the foundation everything else rests on.

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

// IdentifierBits is the width of the identifier circle.
const IdentifierBits = 256

// Identifier is an unsigned 256-bit value in big-endian byte order.
type Identifier [IdentifierBits / 8]byte

// circleModulus is 2^256, the size of the identifier circle.
var circleModulus = new(big.Int).Lsh(big.NewInt(1), IdentifierBits)

// IdentifierFromBytes hashes arbitrary input down to a circle position.
func IdentifierFromBytes(parts ...[]byte) Identifier {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var id Identifier
	copy(id[:], h.Sum(nil))
	return id
}

// Big returns the identifier as an unsigned big integer.
func (id Identifier) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// identifierFromBig reduces n modulo 2^256 and renders it big-endian.
func identifierFromBig(n *big.Int) Identifier {
	var id Identifier
	new(big.Int).Mod(n, circleModulus).FillBytes(id[:])
	return id
}

// Offset returns id + 2^bit on the circle. Finger i of a node targets
// Offset(i) of the node's own identifier.
func (id Identifier) Offset(bit uint) Identifier {
	step := new(big.Int).Lsh(big.NewInt(1), bit)
	return identifierFromBig(step.Add(step, id.Big()))
}

// cmp is unsigned big-endian comparison: -1, 0 or +1.
func (id Identifier) cmp(other Identifier) int {
	return bytes.Compare(id[:], other[:])
}

// inOpenClosed reports whether x lies on the arc (a, b]: traversing the
// circle clockwise from a (exclusive) to b (inclusive), x is encountered.
// When a == b the arc spans the whole circle.
func inOpenClosed(x, a, b Identifier) bool {
	switch a.cmp(b) {
	case -1:
		return x.cmp(a) > 0 && x.cmp(b) <= 0
	case 1:
		return x.cmp(a) > 0 || x.cmp(b) <= 0
	default:
		return true
	}
}

// inOpenOpen reports whether x lies on the arc (a, b), both ends excluded.
// When a == b the arc is the whole circle minus a itself.
func inOpenOpen(x, a, b Identifier) bool {
	switch a.cmp(b) {
	case -1:
		return x.cmp(a) > 0 && x.cmp(b) < 0
	case 1:
		return x.cmp(a) > 0 || x.cmp(b) < 0
	default:
		return x != a
	}
}

// String renders the identifier as lowercase hex.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText renders the identifier as hex, for JSON and log output.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the hex form produced by MarshalText.
func (id *Identifier) UnmarshalText(text []byte) error {
	decoded, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(decoded) != len(id) {
		return fmt.Errorf("identifier must be %d bytes, got %d", len(id), len(decoded))
	}
	copy(id[:], decoded)
	return nil
}

// Short returns an abbreviated hex form for log output.
func (id Identifier) Short() string {
	return hex.EncodeToString(id[:4])
}
