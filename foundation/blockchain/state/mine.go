package state

import (
	"time"

	"github.com/hubcoin/hubcoin/foundation/blockchain/chain"
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/hubcoin/hubcoin/foundation/blockchain/wire"
)

// MineBlock attempts to create the next block in the chain, crediting the
// reward to the specified miner address. If another node's block arrives
// while the proof of work runs, the stale result is discarded with
// ErrBlockAlreadyMined.
func (s *State) MineBlock(miner database.Address) (database.Block, error) {
	s.evHandler("state: MineBlock: MINING: started: miner[%s]", miner)
	defer s.evHandler("state: MineBlock: MINING: completed")

	// Snapshot the mempool and append the coinbase last. This order is
	// part of the block hash pre-image.
	txs, err := s.chain.Mempool()
	if err != nil {
		return database.Block{}, err
	}

	height, err := s.chain.Height()
	if err != nil {
		return database.Block{}, err
	}

	timestamp := uint32(time.Now().Unix())

	prevHash, err := s.chain.LatestBlockHash()
	if err != nil {
		return database.Block{}, err
	}

	// A coinbase repeats an earlier one when miner, reward, and lock time
	// all match, so its lock time is kept past that of the tip's coinbase.
	lockTime := timestamp
	if tip, err := s.chain.Blocks(&prevHash); err == nil {
		for _, tx := range tip[0].Transactions {
			if tx.IsCoinbase() && lockTime <= tx.LockTime {
				lockTime = tx.LockTime + 1
			}
		}
	}
	coinbase := database.NewCoinbaseTx(miner, chain.BlockReward(height), lockTime)
	txs = append(txs, coinbase)

	s.evHandler("state: MineBlock: MINING: perform POW: txs[%d] prevBlk[%s]", len(txs), prevHash)

	hash, nonce, err := database.POW(prevHash, timestamp, txs, s.difficulty, s.evHandler)
	if err != nil {
		return database.Block{}, err
	}

	// Another node may have beaten us to this block while the search
	// ran. Its block has already been ingested and the mempool cleaned,
	// so the coinbase must not be persisted.
	latest, err := s.chain.LatestBlockHash()
	if err != nil {
		return database.Block{}, err
	}
	if latest != prevHash {
		s.evHandler("state: MineBlock: MINING: CANCEL: chain advanced to [%s]", latest)
		return database.Block{}, ErrBlockAlreadyMined
	}

	if err := s.chain.AddTransaction(coinbase); err != nil {
		return database.Block{}, err
	}

	block, err := s.chain.CreateBlock(nonce, hash, prevHash, timestamp, txs)
	if err != nil {
		return database.Block{}, err
	}

	s.evHandler("state: MineBlock: MINING: block[%s] height[%d]", block.Hash, height+1)

	s.broadcast(wire.CmdBlocks, wire.BlocksPayload{Blocks: []database.Block{block}})

	return block, nil
}
