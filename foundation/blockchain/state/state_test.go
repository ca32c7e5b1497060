package state_test

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hubcoin/hubcoin/foundation/blockchain/chain"
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/hubcoin/hubcoin/foundation/blockchain/peer"
	"github.com/hubcoin/hubcoin/foundation/blockchain/signature"
	"github.com/hubcoin/hubcoin/foundation/blockchain/state"
	"github.com/hubcoin/hubcoin/foundation/blockchain/storage/sqlite"
	"github.com/hubcoin/hubcoin/foundation/blockchain/transport"
	"github.com/hubcoin/hubcoin/foundation/blockchain/wire"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// nopTransport satisfies the state.Transport interface for tests that
// never touch the network.
type nopTransport struct{}

func (nopTransport) Listen(h transport.Handler) error                       { return nil }
func (nopTransport) Send(to peer.Peer, cmd wire.Command, payload any) error { return nil }
func (nopTransport) Port() uint32                                           { return 0 }
func (nopTransport) Shutdown() error                                        { return nil }

// newNode constructs a state over a fresh store with a low difficulty so
// mining is fast.
func newNode(t *testing.T) *state.State {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "chain.db"))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the store: %v", failed, err)
	}
	t.Cleanup(func() { store.Close() })

	st, err := state.New(state.Config{
		Role:       state.RolePeer,
		Difficulty: 1,
		Chain:      chain.New(store),
		Transport:  nopTransport{},
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	return st
}

func Test_MiningScenarios(t *testing.T) {
	t.Log("Given the need to validate mining and spending on a single node.")
	{
		st := newNode(t)

		minerKey, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate the miner key: %v", failed, err)
		}
		minerA := signature.PublicKeyToAddress(&minerKey.PublicKey)
		friendB := database.NewAddress([]byte("friend public key"))

		t.Logf("\tTest 0:\tWhen mining the genesis block.")
		{
			if _, err := st.MineBlock(minerA); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to mine: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to mine.", success)

			height, _ := st.QueryHeight()
			if height != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould have height 1: got %d", failed, height)
			}
			t.Logf("\t%s\tTest 0:\tShould have height 1.", success)

			balA, _ := st.QueryBalance(minerA)
			if balA != chain.BlockReward(0) || balA != 1_000_000 {
				t.Fatalf("\t%s\tTest 0:\tShould credit the genesis reward: got %d", failed, balA)
			}
			t.Logf("\t%s\tTest 0:\tShould credit the genesis reward.", success)

			balB, _ := st.QueryBalance(friendB)
			if balB != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould leave other accounts empty: got %d", failed, balB)
			}
			t.Logf("\t%s\tTest 0:\tShould leave other accounts empty.", success)
		}

		t.Logf("\tTest 1:\tWhen spending one coin and mining again.")
		{
			if _, err := st.CreateTransaction(minerKey, friendB, 1); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to create the transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould be able to create the transaction.", success)

			mempool, _ := st.QueryMempoolLength()
			if mempool != 1 {
				t.Fatalf("\t%s\tTest 1:\tShould have one mempool transaction: got %d", failed, mempool)
			}
			t.Logf("\t%s\tTest 1:\tShould have one mempool transaction.", success)

			block, err := st.MineBlock(minerA)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to mine: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould be able to mine.", success)

			balA, _ := st.QueryBalance(minerA)
			if balA != 2*chain.BlockReward(0)-1 || balA != 1_999_999 {
				t.Fatalf("\t%s\tTest 1:\tShould have the reward minus the coin: got %d", failed, balA)
			}
			t.Logf("\t%s\tTest 1:\tShould have the reward minus the coin.", success)

			balB, _ := st.QueryBalance(friendB)
			if balB != 1 {
				t.Fatalf("\t%s\tTest 1:\tShould have credited the coin: got %d", failed, balB)
			}
			t.Logf("\t%s\tTest 1:\tShould have credited the coin.", success)

			mempool, _ = st.QueryMempoolLength()
			if mempool != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould have an empty mempool after mining: got %d", failed, mempool)
			}
			t.Logf("\t%s\tTest 1:\tShould have an empty mempool after mining.", success)

			// Every transaction of the block left the mempool.
			remaining, _ := st.QueryMempool()
			for _, tx := range block.Transactions {
				for _, m := range remaining {
					if m.Hash() == tx.Hash() {
						t.Fatalf("\t%s\tTest 1:\tShould not keep block transactions in the mempool.", failed)
					}
				}
			}
			t.Logf("\t%s\tTest 1:\tShould not keep block transactions in the mempool.", success)
		}

		t.Logf("\tTest 2:\tWhen overspending the balance.")
		{
			_, err := st.CreateTransaction(minerKey, friendB, math.MaxUint64)

			var ibe *state.InsufficientBalanceError
			if !errors.As(err, &ibe) {
				t.Fatalf("\t%s\tTest 2:\tShould fail with an insufficient balance: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould fail with an insufficient balance.", success)
		}

		t.Logf("\tTest 3:\tWhen validating conservation of value.")
		{
			supply, err := st.QueryCirculatingSupply()
			if err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould be able to read the supply: %v", failed, err)
			}

			balA, _ := st.QueryBalance(minerA)
			balB, _ := st.QueryBalance(friendB)
			if balA+balB != supply {
				t.Fatalf("\t%s\tTest 3:\tShould conserve value: balances %d, supply %d", failed, balA+balB, supply)
			}
			t.Logf("\t%s\tTest 3:\tShould conserve value.", success)
		}
	}
}

func Test_TransactionPreconditions(t *testing.T) {
	t.Log("Given the need to reject invalid spends up front.")
	{
		st := newNode(t)

		minerKey, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate the miner key: %v", failed, err)
		}
		minerA := signature.PublicKeyToAddress(&minerKey.PublicKey)

		if _, err := st.MineBlock(minerA); err != nil {
			t.Fatalf("\t%s\tShould be able to mine: %v", failed, err)
		}

		t.Logf("\tTest 0:\tWhen the value is zero.")
		{
			_, err := st.CreateTransaction(minerKey, database.NewAddress([]byte("friend")), 0)
			if !errors.Is(err, state.ErrInvalidValue) {
				t.Fatalf("\t%s\tTest 0:\tShould fail with an invalid value: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould fail with an invalid value.", success)
		}

		t.Logf("\tTest 1:\tWhen sending to the sender's own address.")
		{
			_, err := st.CreateTransaction(minerKey, minerA, 1)
			if !errors.Is(err, state.ErrSourceEqualsDestination) {
				t.Fatalf("\t%s\tTest 1:\tShould fail when source equals destination: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould fail when source equals destination.", success)
		}
	}
}
