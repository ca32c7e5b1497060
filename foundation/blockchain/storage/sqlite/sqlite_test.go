package sqlite_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/hubcoin/hubcoin/foundation/blockchain/signature"
	"github.com/hubcoin/hubcoin/foundation/blockchain/storage/sqlite"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// newStore opens a store under the test's temp folder.
func newStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chain.db")
	store, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the store: %v", failed, err)
	}
	t.Cleanup(func() { store.Close() })

	return store, path
}

// makeBlock assembles a block over the current tip. The store does not
// check difficulty, so the hash is derived directly.
func makeBlock(t *testing.T, store *sqlite.Store, timestamp uint32, txs []database.Tx) database.Block {
	t.Helper()

	prev, err := store.LatestBlockHash()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to read the tip: %v", failed, err)
	}

	return database.Block{
		Timestamp:    timestamp,
		Transactions: txs,
		Nonce:        0,
		Hash:         database.BlockHash(prev, timestamp, 0, txs),
		PrevHash:     prev,
	}
}

func Test_MempoolAndMigration(t *testing.T) {
	t.Log("Given the need to stage transactions and migrate them into blocks.")
	{
		t.Logf("\tTest 0:\tWhen mining a mempool transaction into a block.")
		{
			store, _ := newStore(t)

			miner := database.NewAddress([]byte("miner"))
			cb := database.NewCoinbaseTx(miner, 1_000_000, 100)

			if err := store.AddTransaction(cb); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to add a transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to add a transaction.", success)

			if err := store.AddTransaction(cb); !errors.Is(err, sqlite.ErrDuplicateTransaction) {
				t.Fatalf("\t%s\tTest 0:\tShould reject a duplicate hash: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject a duplicate hash.", success)

			mempool, err := store.Mempool()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the mempool: %v", failed, err)
			}
			if len(mempool) != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould have one mempool transaction: got %d", failed, len(mempool))
			}
			t.Logf("\t%s\tTest 0:\tShould have one mempool transaction.", success)

			// The unspent index is updated on mempool acceptance.
			bal, err := store.Balance(miner)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the balance: %v", failed, err)
			}
			if bal != 1_000_000 {
				t.Fatalf("\t%s\tTest 0:\tShould reflect the unmined output: got %d", failed, bal)
			}
			t.Logf("\t%s\tTest 0:\tShould reflect the unmined output.", success)

			block := makeBlock(t, store, 101, []database.Tx{cb})
			if err := store.AddBlock(block); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to add the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to add the block.", success)

			mempool, err = store.Mempool()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the mempool: %v", failed, err)
			}
			if len(mempool) != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould have an empty mempool after the migration: got %d", failed, len(mempool))
			}
			t.Logf("\t%s\tTest 0:\tShould have an empty mempool after the migration.", success)

			height, err := store.BlockHeight()
			if err != nil || height != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould have height 1: got %d, err %v", failed, height, err)
			}
			t.Logf("\t%s\tTest 0:\tShould have height 1.", success)

			latest, err := store.LatestBlockHash()
			if err != nil || latest != block.Hash {
				t.Fatalf("\t%s\tTest 0:\tShould report the block as the tip.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould report the block as the tip.", success)
		}
	}
}

func Test_UTXOIndex(t *testing.T) {
	t.Log("Given the need to validate the unspent output index rules.")
	{
		t.Logf("\tTest 0:\tWhen spending a mined output.")
		{
			store, _ := newStore(t)

			privateKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to generate a key: %v", failed, err)
			}
			publicKey := signature.PublicBytes(&privateKey.PublicKey)
			sender := signature.PublicKeyToAddress(&privateKey.PublicKey)
			recipient := database.NewAddress([]byte("recipient"))

			cb := database.NewCoinbaseTx(sender, 1_000_000, 100)
			block := makeBlock(t, store, 100, []database.Tx{cb})
			if err := store.AddBlock(block); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to add the block: %v", failed, err)
			}

			utxos, err := store.Unspent(sender)
			if err != nil || len(utxos) != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould have one unspent output: got %d, err %v", failed, len(utxos), err)
			}
			t.Logf("\t%s\tTest 0:\tShould have one unspent output.", success)

			sig, err := signature.Sign(privateKey, utxos[0].OutpointHash)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to sign the outpoint: %v", failed, err)
			}

			spend := database.Tx{
				Inputs: []database.TxInput{
					{
						PreviousOutput: utxos[0].OutputRef(),
						PublicKey:      publicKey,
						Signature:      sig,
					},
				},
				Outputs: []database.TxOutput{
					{Value: 1, Address: recipient},
					{Value: 999_999, Address: sender},
				},
				LockTime: 101,
			}

			if err := store.AddTransaction(spend); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to add the spend: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to add the spend.", success)

			if _, exists, _ := store.UnspentOutput(utxos[0].OutputRef()); exists {
				t.Fatalf("\t%s\tTest 0:\tShould have deleted the spent entry.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould have deleted the spent entry.", success)

			senderBal, _ := store.Balance(sender)
			recipientBal, _ := store.Balance(recipient)
			if senderBal != 999_999 || recipientBal != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould have the new balances: sender %d, recipient %d", failed, senderBal, recipientBal)
			}
			t.Logf("\t%s\tTest 0:\tShould have the new balances.", success)
		}
	}
}

func Test_Blocks(t *testing.T) {
	t.Log("Given the need to traverse the chain in both directions.")
	{
		t.Logf("\tTest 0:\tWhen three blocks are on the chain.")
		{
			store, _ := newStore(t)
			miner := database.NewAddress([]byte("miner"))

			var hashes []database.Hash
			for i := uint32(0); i < 3; i++ {
				cb := database.NewCoinbaseTx(miner, 1_000_000, 100+i)
				block := makeBlock(t, store, 100+i, []database.Tx{cb})
				if err := store.AddBlock(block); err != nil {
					t.Fatalf("\t%s\tTest 0:\tShould be able to add block %d: %v", failed, i, err)
				}
				hashes = append(hashes, block.Hash)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to add three blocks.", success)

			asc, err := store.Blocks(nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the full chain: %v", failed, err)
			}
			if len(asc) != 3 || asc[0].Hash != hashes[0] || asc[2].Hash != hashes[2] {
				t.Fatalf("\t%s\tTest 0:\tShould get the chain in ascending order.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould get the chain in ascending order.", success)

			for i, block := range asc {
				want := database.BlockHash(block.PrevHash, block.Timestamp, block.Nonce, block.Transactions)
				if block.Hash != want {
					t.Fatalf("\t%s\tTest 0:\tShould reconstruct block %d byte exact.", failed, i)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould reconstruct every block byte exact.", success)

			desc, err := store.Blocks(&hashes[0])
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the descending span: %v", failed, err)
			}
			if len(desc) != 3 || desc[0].Hash != hashes[2] || desc[2].Hash != hashes[0] {
				t.Fatalf("\t%s\tTest 0:\tShould get the span in descending order to the anchor.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould get the span in descending order to the anchor.", success)

			mid, err := store.Blocks(&hashes[1])
			if err != nil || len(mid) != 2 {
				t.Fatalf("\t%s\tTest 0:\tShould stop at the anchor inclusive: got %d, err %v", failed, len(mid), err)
			}
			t.Logf("\t%s\tTest 0:\tShould stop at the anchor inclusive.", success)

			unknown := database.NewHash([]byte("not on chain"))
			if _, err := store.Blocks(&unknown); !errors.Is(err, sqlite.ErrUnknownBlock) {
				t.Fatalf("\t%s\tTest 0:\tShould reject an unknown anchor: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject an unknown anchor.", success)
		}
	}
}

func Test_Payments(t *testing.T) {
	t.Log("Given the need to derive payment history.")
	{
		t.Logf("\tTest 0:\tWhen a miner sends a coin to a friend.")
		{
			store, _ := newStore(t)

			minerKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to generate the miner key: %v", failed, err)
			}
			friendKey, err := crypto.GenerateKey()
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to generate the friend key: %v", failed, err)
			}

			minerPub := signature.PublicBytes(&minerKey.PublicKey)
			friendPub := signature.PublicBytes(&friendKey.PublicKey)
			miner := signature.PublicKeyToAddress(&minerKey.PublicKey)
			friend := signature.PublicKeyToAddress(&friendKey.PublicKey)

			cb := database.NewCoinbaseTx(miner, 1_000_000, 100)
			block := makeBlock(t, store, 100, []database.Tx{cb})
			if err := store.AddBlock(block); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to add the block: %v", failed, err)
			}

			utxos, _ := store.Unspent(miner)
			sig, _ := signature.Sign(minerKey, utxos[0].OutpointHash)

			spend := database.Tx{
				Inputs: []database.TxInput{
					{PreviousOutput: utxos[0].OutputRef(), PublicKey: minerPub, Signature: sig},
				},
				Outputs: []database.TxOutput{
					{Value: 1, Address: friend},
					{Value: 999_999, Address: miner},
				},
				LockTime: 101,
			}
			if err := store.AddTransaction(spend); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to add the spend: %v", failed, err)
			}

			minerHistory, err := store.Payments(minerPub)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the miner history: %v", failed, err)
			}
			if len(minerHistory) != 2 {
				t.Fatalf("\t%s\tTest 0:\tShould have a reward and a send in the miner history: got %d", failed, len(minerHistory))
			}
			t.Logf("\t%s\tTest 0:\tShould have a reward and a send in the miner history.", success)

			if !minerHistory[0].Coinbase || minerHistory[0].Value != 1_000_000 {
				t.Fatalf("\t%s\tTest 0:\tShould attribute the reward to the miner.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould attribute the reward to the miner.", success)

			if minerHistory[1].Sender != miner || minerHistory[1].Recipient != friend || minerHistory[1].Value != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould record the send without the change output.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould record the send without the change output.", success)

			friendHistory, err := store.Payments(friendPub)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to read the friend history: %v", failed, err)
			}
			if len(friendHistory) != 1 || friendHistory[0].Recipient != friend {
				t.Fatalf("\t%s\tTest 0:\tShould show the received coin only: got %d", failed, len(friendHistory))
			}
			t.Logf("\t%s\tTest 0:\tShould show the received coin only.", success)
		}
	}
}

func Test_Persistence(t *testing.T) {
	t.Log("Given the need to save and clear node state.")
	{
		t.Logf("\tTest 0:\tWhen reloading a store from disk.")
		{
			store, path := newStore(t)
			miner := database.NewAddress([]byte("miner"))

			cb := database.NewCoinbaseTx(miner, 1_000_000, 100)
			block := makeBlock(t, store, 100, []database.Tx{cb})
			if err := store.AddBlock(block); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to add the block: %v", failed, err)
			}

			pending := database.NewCoinbaseTx(database.NewAddress([]byte("other")), 1_000_000, 101)
			if err := store.AddTransaction(pending); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to add a mempool transaction: %v", failed, err)
			}

			if err := store.Close(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to close the store: %v", failed, err)
			}

			reloaded, err := sqlite.New(path)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to reopen the store: %v", failed, err)
			}
			defer reloaded.Close()

			height, err := reloaded.BlockHeight()
			if err != nil || height != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould keep the height across reloads: got %d, err %v", failed, height, err)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the height across reloads.", success)

			mempool, err := reloaded.Mempool()
			if err != nil || len(mempool) != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould keep the mempool across reloads: got %d, err %v", failed, len(mempool), err)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the mempool across reloads.", success)

			if err := reloaded.Reset(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to reset the store: %v", failed, err)
			}

			height, _ = reloaded.BlockHeight()
			mempool, _ = reloaded.Mempool()
			if height != 0 || len(mempool) != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould be empty after a reset: height %d, mempool %d", failed, height, len(mempool))
			}
			t.Logf("\t%s\tTest 0:\tShould be empty after a reset.", success)
		}
	}
}
