// Package signature provides helper functions for handling the signing
// and verification of spends. The signed message is always the 32 byte
// outpoint hash: the hash of the transaction that created the output
// being spent.
package signature

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
)

// recoveryIDOffset is where the recovery id lives inside a 65 byte
// secp256k1 signature. Verification works on the 64 byte [R|S] part only,
// so signatures with or without the recovery byte are accepted.
const recoveryIDOffset = crypto.RecoveryIDOffset

// PublicBytes returns the raw uncompressed bytes for the public key. The
// encoding is deterministic so the derived address is stable.
func PublicBytes(publicKey *ecdsa.PublicKey) []byte {
	return crypto.FromECDSAPub(publicKey)
}

// PublicKeyToAddress derives the on chain address for the public key by
// applying SHA-256 twice to the raw public key bytes.
func PublicKeyToAddress(publicKey *ecdsa.PublicKey) database.Address {
	return database.NewAddress(PublicBytes(publicKey))
}

// Sign uses the specified private key to sign the outpoint hash of the
// output being spent.
func Sign(privateKey *ecdsa.PrivateKey, outpointHash database.Hash) ([]byte, error) {
	sig, err := crypto.Sign(outpointHash[:], privateKey)
	if err != nil {
		return nil, err
	}

	// Check the signature against our own public key before letting it
	// out the door.
	if !Verify(PublicBytes(&privateKey.PublicKey), outpointHash, sig) {
		return nil, errors.New("invalid signature")
	}

	return sig, nil
}

// Verify reports whether the signature over the outpoint hash was
// produced by the owner of the public key.
func Verify(publicKey []byte, outpointHash database.Hash, sig []byte) bool {
	switch len(sig) {
	case crypto.SignatureLength:
		sig = sig[:recoveryIDOffset]
	case recoveryIDOffset:
	default:
		return false
	}

	return crypto.VerifySignature(publicKey, outpointHash[:], sig)
}
