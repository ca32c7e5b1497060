package database

import (
	"bytes"
	"fmt"
)

// TxOutput represents value assigned to the owner of an address. Outputs
// are immutable once created.
type TxOutput struct {
	Value   uint64  `json:"value"`
	Address Address `json:"address"`
}

// Serialize returns the canonical byte encoding of the output: the little
// endian value followed by the raw address bytes.
func (out TxOutput) Serialize() []byte {
	data := make([]byte, 0, 8+HashLen)
	data = appendUint64(data, out.Value)
	data = append(data, out.Address[:]...)
	return data
}

// Hash returns the unique hash of the output. The store records it with
// the output's row; a spend signs the outpoint hash, not this hash.
func (out TxOutput) Hash() Hash {
	return NewHash(out.Serialize())
}

// =============================================================================

// OutputRef points at a specific output of a specific transaction. The
// zero value is the coinbase sentinel.
type OutputRef struct {
	Hash  Hash   `json:"hash"`
	Index uint32 `json:"index"`
}

// IsCoinbase reports whether the reference is the coinbase sentinel of a
// zero hash and index zero.
func (ref OutputRef) IsCoinbase() bool {
	return ref.Hash.IsZero() && ref.Index == 0
}

// Serialize returns the canonical byte encoding of the reference.
func (ref OutputRef) Serialize() []byte {
	data := make([]byte, 0, HashLen+4)
	data = append(data, ref.Hash[:]...)
	data = appendUint32(data, ref.Index)
	return data
}

// =============================================================================

// TxInput spends a previously created output. Coinbase inputs carry an
// empty signature and the miner address in the public key field so reward
// payments can be attributed.
type TxInput struct {
	PreviousOutput OutputRef `json:"previous_output"`
	PublicKey      []byte    `json:"public_key"`
	Signature      []byte    `json:"signature"`
}

// Serialize returns the canonical byte encoding of the input. Variable
// length fields are concatenated without length prefixes.
func (in TxInput) Serialize() []byte {
	data := in.PreviousOutput.Serialize()
	data = append(data, in.PublicKey...)
	data = append(data, in.Signature...)
	return data
}

// =============================================================================

// Tx is the transactional information between two parties.
type Tx struct {
	Inputs   []TxInput  `json:"inputs"`
	Outputs  []TxOutput `json:"outputs"`
	LockTime uint32     `json:"lock_time"`
}

// NewCoinbaseTx constructs the transaction that mints the block reward for
// the specified miner. The single input carries the coinbase sentinel
// reference and the miner address in the public key field.
func NewCoinbaseTx(miner Address, reward uint64, lockTime uint32) Tx {
	return Tx{
		Inputs: []TxInput{
			{
				PreviousOutput: OutputRef{},
				PublicKey:      bytes.Clone(miner[:]),
			},
		},
		Outputs: []TxOutput{
			{Value: reward, Address: miner},
		},
		LockTime: lockTime,
	}
}

// Serialize returns the canonical byte encoding of the transaction: all
// inputs, then all outputs, then the little endian lock time.
func (tx Tx) Serialize() []byte {
	var data []byte
	for _, in := range tx.Inputs {
		data = append(data, in.Serialize()...)
	}
	for _, out := range tx.Outputs {
		data = append(data, out.Serialize()...)
	}
	data = appendUint32(data, tx.LockTime)
	return data
}

// Hash returns the unique hash for the transaction.
func (tx Tx) Hash() Hash {
	return NewHash(tx.Serialize())
}

// IsCoinbase reports whether the transaction mints the block reward. A
// coinbase has exactly one input referencing the coinbase sentinel.
func (tx Tx) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PreviousOutput.IsCoinbase()
}

// MinerAddress returns the address carried in a coinbase input's public
// key field. The ok result is false for non coinbase transactions.
func (tx Tx) MinerAddress() (Address, bool) {
	if !tx.IsCoinbase() || len(tx.Inputs[0].PublicKey) != HashLen {
		return Address{}, false
	}

	var addr Address
	copy(addr[:], tx.Inputs[0].PublicKey)
	return addr, true
}

// ValidateShape checks the structural invariants that hold for every
// transaction regardless of chain state.
func (tx Tx) ValidateShape() error {
	if tx.IsCoinbase() {
		if len(tx.Outputs) != 1 {
			return fmt.Errorf("coinbase has %d outputs, need 1", len(tx.Outputs))
		}
		return nil
	}

	if len(tx.Inputs) == 0 {
		return fmt.Errorf("transaction has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("transaction has no outputs")
	}
	for _, out := range tx.Outputs {
		if out.Value == 0 {
			return fmt.Errorf("output value must be greater than zero")
		}
	}

	return nil
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s:%d", tx.Hash(), len(tx.Outputs))
}

// =============================================================================

// UTXO represents a spendable output as recorded in the unspent output
// index. It is uniquely keyed by the outpoint hash and index.
type UTXO struct {
	OutpointHash  Hash    `json:"outpoint_hash"`
	OutpointIndex uint32  `json:"outpoint_index"`
	Value         uint64  `json:"value"`
	Address       Address `json:"address"`
}

// OutputRef returns the reference a spending input must carry.
func (u UTXO) OutputRef() OutputRef {
	return OutputRef{Hash: u.OutpointHash, Index: u.OutpointIndex}
}

// =============================================================================

// Payment represents one entry of an account's payment history. Coinbase
// rewards carry a zero sender.
type Payment struct {
	TxHash    Hash    `json:"tx_hash"`
	Time      uint32  `json:"time"`
	Sender    Address `json:"sender"`
	Recipient Address `json:"recipient"`
	Value     uint64  `json:"value"`
	Coinbase  bool    `json:"coinbase"`
}
