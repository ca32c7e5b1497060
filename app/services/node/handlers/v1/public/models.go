package public

import (
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
)

// status is the response for the node status route.
type status struct {
	Role              string           `json:"role"`
	Height            uint64           `json:"height"`
	LatestBlockHash   database.Hash    `json:"latest_block_hash"`
	CirculatingSupply uint64           `json:"circulating_supply"`
	MempoolLength     int              `json:"mempool_length"`
	KnownPeers        []string         `json:"known_peers"`
	MinerAddress      database.Address `json:"miner_address"`
}

// sendTx is the request model for submitting a spend through the node's
// wallet. The key name must be known to the node's keystore.
type sendTx struct {
	From  string `json:"from" validate:"required"`
	To    string `json:"to" validate:"required,len=64,hexadecimal"`
	Value uint64 `json:"value" validate:"required,gt=0"`
}

// balance is the response for the account balance route.
type balance struct {
	Address database.Address `json:"address"`
	Balance uint64           `json:"balance"`
}
