// Package database implements the blockchain data model: canonical
// serialization and hashing of transactions and blocks, and the proof of
// work algorithm that secures them.
package database

import (
	"errors"
	"fmt"
	"math"
)

// DefaultDifficulty is the number of leading zero hex characters a valid
// block hash must exhibit unless the node is configured otherwise.
const DefaultDifficulty uint32 = 3

// ErrNonceExhausted is returned when the nonce search runs through the
// entire 32 bit space without finding a solution.
var ErrNonceExhausted = errors.New("nonce space exhausted")

// =============================================================================

// Block represents a group of transactions batched together with the
// proof of work that chains it to its predecessor.
type Block struct {
	Timestamp    uint32 `json:"timestamp"`
	Transactions []Tx   `json:"transactions"`
	Nonce        uint32 `json:"nonce"`
	Hash         Hash   `json:"hash"`
	PrevHash     Hash   `json:"previous_hash"`
}

// BlockHash computes the hash for a candidate block. The pre-image is the
// previous hash, the little endian timestamp and nonce, and the canonical
// serialization of every transaction in the caller provided order.
func BlockHash(prevHash Hash, timestamp uint32, nonce uint32, txs []Tx) Hash {
	data := make([]byte, 0, HashLen+8)
	data = append(data, prevHash[:]...)
	data = appendUint32(data, timestamp)
	data = appendUint32(data, nonce)
	for _, tx := range txs {
		data = append(data, tx.Serialize()...)
	}
	return NewHash(data)
}

// POW performs the proof of work mining operation: a single threaded
// nonce search starting at zero until the block hash satisfies the
// difficulty prefix. The transactions are hashed in the order provided by
// the caller, with the coinbase appended last.
func POW(prevHash Hash, timestamp uint32, txs []Tx, difficulty uint32, ev func(v string, args ...any)) (Hash, uint32, error) {
	ev("database: POW: MINING: started: difficulty[%d] txs[%d]", difficulty, len(txs))
	defer ev("database: POW: MINING: completed")

	for nonce := uint32(0); ; nonce++ {
		if nonce%1_000_000 == 0 && nonce > 0 {
			ev("database: POW: MINING: attempts[%d]", nonce)
		}

		hash := BlockHash(prevHash, timestamp, nonce, txs)
		if isHashSolved(difficulty, hash) {
			ev("database: POW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: nonce[%d]", prevHash, hash, nonce)
			return hash, nonce, nil
		}

		if nonce == math.MaxUint32 {
			return Hash{}, 0, ErrNonceExhausted
		}
	}
}

// Validate re-derives the candidate hash from the block fields and the
// specified previous hash and checks the proof of work and the coinbase
// placement invariant.
func (b Block) Validate(prevHash Hash, difficulty uint32) error {
	if b.PrevHash != prevHash {
		return fmt.Errorf("previous hash doesn't match, got %s, exp %s", b.PrevHash, prevHash)
	}

	hash := BlockHash(prevHash, b.Timestamp, b.Nonce, b.Transactions)
	if hash != b.Hash {
		return fmt.Errorf("block hash doesn't match contents, got %s, exp %s", b.Hash, hash)
	}

	if !isHashSolved(difficulty, hash) {
		return fmt.Errorf("%s invalid block hash for difficulty %d", hash, difficulty)
	}

	var coinbases int
	for i, tx := range b.Transactions {
		if tx.IsCoinbase() {
			coinbases++
			if i != len(b.Transactions)-1 {
				return fmt.Errorf("coinbase must be the last transaction")
			}
		}
	}
	if coinbases != 1 {
		return fmt.Errorf("block has %d coinbase transactions, need 1", coinbases)
	}

	return nil
}

// isHashSolved checks the hash to make sure it complies with the POW
// rules. The lowercase hex of the hash must lead with a difficulty number
// of 0's.
func isHashSolved(difficulty uint32, hash Hash) bool {
	const match = "00000000000000000"

	if difficulty > uint32(len(match)) {
		return false
	}

	return hash.String()[:difficulty] == match[:difficulty]
}
