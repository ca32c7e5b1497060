package database

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// HashLen is the number of bytes in a digest produced by the chain's
// hashing function.
const HashLen = 32

// Hash represents a 32 byte SHA-256 digest of a canonical serialization.
// Equality is byte exact.
type Hash [HashLen]byte

// ZeroHash represents a hash of all zeros. It marks the previous block of
// the genesis block and the previous output of a coinbase input.
var ZeroHash Hash

// NewHash computes the SHA-256 digest over the concatenation of the
// specified byte slices.
func NewHash(data ...[]byte) Hash {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}

	var hash Hash
	copy(hash[:], h.Sum(nil))
	return hash
}

// ToHash converts a lowercase hex encoded string into a Hash.
func ToHash(s string) (Hash, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decoding hash: %w", err)
	}
	if len(data) != HashLen {
		return Hash{}, fmt.Errorf("hash is %d bytes, need %d", len(data), HashLen)
	}

	var hash Hash
	copy(hash[:], data)
	return hash, nil
}

// BytesToHash converts a raw 32 byte slice into a Hash.
func BytesToHash(data []byte) (Hash, error) {
	if len(data) != HashLen {
		return Hash{}, fmt.Errorf("hash is %d bytes, need %d", len(data), HashLen)
	}

	var hash Hash
	copy(hash[:], data)
	return hash, nil
}

// IsZero reports whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements the encoding.TextMarshaler interface so hashes
// travel as lowercase hex inside the wire protocol's textual payloads.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (h *Hash) UnmarshalText(data []byte) error {
	hash, err := ToHash(string(data))
	if err != nil {
		return err
	}

	*h = hash
	return nil
}

// =============================================================================

// Address represents the owner of a coin: the double SHA-256 digest of the
// raw public key bytes.
type Address [HashLen]byte

// ZeroAddress represents an address of all zeros.
var ZeroAddress Address

// NewAddress derives an address by applying SHA-256 twice to the raw
// public key bytes.
func NewAddress(publicKey []byte) Address {
	first := sha256.Sum256(publicKey)
	second := sha256.Sum256(first[:])
	return Address(second)
}

// ToAddress converts a lowercase hex encoded string into an Address.
func ToAddress(s string) (Address, error) {
	hash, err := ToHash(s)
	if err != nil {
		return Address{}, err
	}
	return Address(hash), nil
}

// IsZero reports whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String returns the lowercase hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements the encoding.TextMarshaler interface.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (a *Address) UnmarshalText(data []byte) error {
	addr, err := ToAddress(string(data))
	if err != nil {
		return err
	}

	*a = addr
	return nil
}

// =============================================================================

// appendUint32 appends the little endian encoding of the value. All multi
// byte integers inside a canonical hash pre-image are little endian.
func appendUint32(data []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(data, value)
}

// appendUint64 appends the little endian encoding of the value.
func appendUint64(data []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(data, value)
}
