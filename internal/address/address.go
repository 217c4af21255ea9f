// Package address derives the deterministic storage addresses of markets,
// escrows and positions. Every caller (engine, stores, HTTP clients) must use
// these functions; nothing else in the module computes an address.
package address

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Length is the size of an address in bytes.
const Length = 32

const (
	namespace    = "parimutuel"
	marketSeed   = "market"
	escrowSeed   = "market_escrow"
	positionSeed = "position"
)

// Address identifies a market, escrow or position record.
type Address [Length]byte

// Zero is the unset address.
var Zero Address

// Hex returns the 0x-prefixed hex encoding.
func (a Address) Hex() string {
	return hexutil.Encode(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// IsZero reports whether a is the unset address.
func (a Address) IsZero() bool {
	return a == Zero
}

// MarshalText implements encoding.TextMarshaler so addresses render as hex in JSON.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse decodes a 0x-prefixed hex address.
func Parse(s string) (Address, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return Zero, fmt.Errorf("address: decode %q: %w", s, err)
	}
	if len(raw) != Length {
		return Zero, fmt.Errorf("address: decode %q: want %d bytes, got %d", s, Length, len(raw))
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// FromBytes copies a raw 32-byte value read back from storage.
func FromBytes(b []byte) (Address, error) {
	if len(b) != Length {
		return Zero, fmt.Errorf("address: from bytes: want %d bytes, got %d", Length, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// Market derives the address of the market identified by marketID.
func Market(marketID string) Address {
	return derive(marketSeed, []byte(marketID))
}

// Escrow derives the escrow address paired with a market address.
func Escrow(market Address) Address {
	return derive(escrowSeed, market[:])
}

// Position derives the address of the seq-th stake placed by owner on market.
// seq is assigned by the ledger and is unique per (owner, market), so repeated
// stakes inside the same second never share an address.
func Position(owner string, market Address, seq uint64) Address {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	return derive(positionSeed, []byte(owner), market[:], seqBuf[:])
}

// derive hashes the namespace, the seed and each part. Every segment is
// length-prefixed so ("ab","c") and ("a","bc") hash differently.
func derive(seed string, parts ...[]byte) Address {
	segments := make([][]byte, 0, 2*(len(parts)+2))
	segments = appendSegment(segments, []byte(namespace))
	segments = appendSegment(segments, []byte(seed))
	for _, p := range parts {
		segments = appendSegment(segments, p)
	}
	return Address(ethcrypto.Keccak256Hash(segments...))
}

func appendSegment(segments [][]byte, b []byte) [][]byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	return append(segments, l[:], b)
}
