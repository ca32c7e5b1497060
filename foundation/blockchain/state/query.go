package state

import (
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
)

// QueryHeight returns the count of blocks on the chain.
func (s *State) QueryHeight() (uint64, error) {
	return s.chain.Height()
}

// QueryLatestBlockHash returns the hash of the newest block, or the zero
// hash for an empty chain.
func (s *State) QueryLatestBlockHash() (database.Hash, error) {
	return s.chain.LatestBlockHash()
}

// QueryBalance returns the sum of unspent output values held by the
// address.
func (s *State) QueryBalance(addr database.Address) (uint64, error) {
	return s.chain.Balance(addr)
}

// QueryUnspent returns the unspent output entries held by the address.
func (s *State) QueryUnspent(addr database.Address) ([]database.UTXO, error) {
	return s.chain.Unspent(addr)
}

// QueryPayments derives the payment history for the owner of the public
// key.
func (s *State) QueryPayments(publicKey []byte) ([]database.Payment, error) {
	return s.chain.Payments(publicKey)
}

// QueryMempool returns the accepted but unmined transactions.
func (s *State) QueryMempool() ([]database.Tx, error) {
	return s.chain.Mempool()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() (int, error) {
	mempool, err := s.chain.Mempool()
	if err != nil {
		return 0, err
	}

	return len(mempool), nil
}

// QueryBlocks returns blocks from the store. See the storage package for
// the anchor semantics.
func (s *State) QueryBlocks(from *database.Hash) ([]database.Block, error) {
	return s.chain.Blocks(from)
}

// QueryCirculatingSupply sums the rewards of every block mined so far.
func (s *State) QueryCirculatingSupply() (uint64, error) {
	return s.chain.CirculatingSupply()
}
