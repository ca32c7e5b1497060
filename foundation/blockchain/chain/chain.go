// Package chain wraps the block store with the monetary rules of the
// blockchain: the reward schedule, circulating supply, and block
// construction.
package chain

import (
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
)

// Monetary constants. The block reward is the subsidy divided by one plus
// the number of whole halvingInterval spans below the block's height.
const (
	Denomination    = 100_000_000
	subsidy         = Denomination / 100
	halvingInterval = 210_000
)

// Storage interface represents the behavior required to be implemented by
// any package providing persistent support for the chain.
type Storage interface {
	AddBlock(block database.Block) error
	AddTransaction(tx database.Tx) error
	Blocks(from *database.Hash) ([]database.Block, error)
	Mempool() ([]database.Tx, error)
	LatestBlockHash() (database.Hash, error)
	BlockHeight() (uint64, error)
	Balance(addr database.Address) (uint64, error)
	Unspent(addr database.Address) ([]database.UTXO, error)
	UnspentOutput(ref database.OutputRef) (database.UTXO, bool, error)
	Payments(publicKey []byte) ([]database.Payment, error)
}

// =============================================================================

// Chain provides the monetary view over the block store. It holds no in
// memory block list; all queries go through the store.
type Chain struct {
	storage Storage
}

// New constructs a Chain over the specified storage.
func New(storage Storage) *Chain {
	return &Chain{storage: storage}
}

// BlockReward returns the coins minted by the block at the specified zero
// based height.
func BlockReward(height uint64) uint64 {
	return subsidy / (1 + height/halvingInterval)
}

// CirculatingSupply sums the rewards of every block mined so far.
func (c *Chain) CirculatingSupply() (uint64, error) {
	height, err := c.storage.BlockHeight()
	if err != nil {
		return 0, err
	}

	var supply uint64
	for h := uint64(0); h < height; h++ {
		supply += BlockReward(h)
	}

	return supply, nil
}

// Height returns the count of blocks on the chain.
func (c *Chain) Height() (uint64, error) {
	return c.storage.BlockHeight()
}

// LatestBlockHash returns the hash of the newest block, or the zero hash
// for an empty chain.
func (c *Chain) LatestBlockHash() (database.Hash, error) {
	return c.storage.LatestBlockHash()
}

// Balance returns the sum of unspent output values held by the address.
func (c *Chain) Balance(addr database.Address) (uint64, error) {
	return c.storage.Balance(addr)
}

// Unspent returns the unspent output entries held by the address.
func (c *Chain) Unspent(addr database.Address) ([]database.UTXO, error) {
	return c.storage.Unspent(addr)
}

// UnspentOutput looks up a single unspent output entry by its outpoint.
func (c *Chain) UnspentOutput(ref database.OutputRef) (database.UTXO, bool, error) {
	return c.storage.UnspentOutput(ref)
}

// Payments derives the payment history for the owner of the public key.
func (c *Chain) Payments(publicKey []byte) ([]database.Payment, error) {
	return c.storage.Payments(publicKey)
}

// Mempool returns the accepted but unmined transactions.
func (c *Chain) Mempool() ([]database.Tx, error) {
	return c.storage.Mempool()
}

// Blocks returns blocks from the store. See Storage.Blocks for the anchor
// semantics.
func (c *Chain) Blocks(from *database.Hash) ([]database.Block, error) {
	return c.storage.Blocks(from)
}

// AddTransaction persists a validated transaction into the mempool.
func (c *Chain) AddTransaction(tx database.Tx) error {
	return c.storage.AddTransaction(tx)
}

// AddBlock persists a validated block received from a peer.
func (c *Chain) AddBlock(block database.Block) error {
	return c.storage.AddBlock(block)
}

// CreateBlock assembles a mined block from its parts and delegates
// persistence to the store, which migrates the matching mempool rows.
func (c *Chain) CreateBlock(nonce uint32, hash database.Hash, prevHash database.Hash, timestamp uint32, txs []database.Tx) (database.Block, error) {
	block := database.Block{
		Timestamp:    timestamp,
		Transactions: txs,
		Nonce:        nonce,
		Hash:         hash,
		PrevHash:     prevHash,
	}

	if err := c.storage.AddBlock(block); err != nil {
		return database.Block{}, err
	}

	return block, nil
}
