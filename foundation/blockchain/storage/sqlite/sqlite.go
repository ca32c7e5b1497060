// Package sqlite implements the persistent block store on top of a
// SQLite database: the append only chain, the mempool staging area, and
// the unspent output index.
package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Sentinel errors surfaced across the store boundary.
var (
	ErrDuplicateTransaction = errors.New("transaction already exists")
	ErrUnknownBlock         = errors.New("unknown block hash")
)

const schema = `
CREATE TABLE IF NOT EXISTS block (
	hash      BLOB PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	tx_count  INTEGER NOT NULL,
	nonce     INTEGER NOT NULL,
	prev_hash BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS tx (
	hash       BLOB PRIMARY KEY,
	lock_time  INTEGER NOT NULL,
	in_count   INTEGER NOT NULL,
	out_count  INTEGER NOT NULL,
	block_hash BLOB REFERENCES block(hash)
);
CREATE TABLE IF NOT EXISTS txout (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	value   INTEGER NOT NULL,
	address BLOB NOT NULL,
	hash    BLOB NOT NULL,
	tx_hash BLOB NOT NULL REFERENCES tx(hash) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS txin (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	out_hash   BLOB NOT NULL,
	out_idx    INTEGER NOT NULL,
	public_key BLOB NOT NULL,
	signature  BLOB NOT NULL,
	tx_hash    BLOB NOT NULL REFERENCES tx(hash) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS utxo (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	outpoint_hash BLOB NOT NULL,
	outpoint_idx  INTEGER NOT NULL,
	value         INTEGER NOT NULL,
	address       BLOB NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS utxo_outpoint ON utxo(outpoint_hash, outpoint_idx);
CREATE INDEX IF NOT EXISTS utxo_address ON utxo(address);
CREATE INDEX IF NOT EXISTS tx_block_hash ON tx(block_hash);
CREATE INDEX IF NOT EXISTS block_timestamp ON block(timestamp);
`

// Store provides access to the chain, mempool, and unspent output state
// on disk. Multi statement writes are serialized by the store's own lock;
// reads go through the pooled connection.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens or creates the SQLite database at dbPath. The parent folder
// is created if it does not exist.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrap(err, "create store folder")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}

	// The modernc driver serializes on a single connection. The store's
	// own mutex guards multi statement writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "apply pragma")
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	return &Store{db: db}, nil
}

// Close makes sure the database is properly closed.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset drops all chain, mempool, and unspent output state. This is used
// by tooling and tests to wipe a node.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"txin", "txout", "tx", "block", "utxo"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return errors.Wrapf(err, "reset %s", table)
		}
	}

	return nil
}

// =============================================================================

// AddTransaction inserts a validated transaction into the mempool and
// updates the unspent output index in the same database transaction. A
// transaction whose hash is already known fails with
// ErrDuplicateTransaction.
func (s *Store) AddTransaction(tx database.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer dbTx.Rollback()

	if err := insertTransaction(dbTx, tx, nil); err != nil {
		return err
	}

	return errors.Wrap(dbTx.Commit(), "commit")
}

// AddBlock persists a validated block and all its transactions. Mempool
// transactions matching by hash are migrated to the block; transactions
// not seen before are inserted and applied to the unspent output index.
func (s *Store) AddBlock(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbTx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer dbTx.Rollback()

	const insertBlock = `INSERT INTO block(hash, timestamp, tx_count, nonce, prev_hash) VALUES(?, ?, ?, ?, ?)`
	if _, err := dbTx.Exec(insertBlock, block.Hash[:], block.Timestamp, len(block.Transactions), block.Nonce, block.PrevHash[:]); err != nil {
		return errors.Wrap(err, "insert block")
	}

	for _, tx := range block.Transactions {
		hash := tx.Hash()

		var exists int
		if err := dbTx.QueryRow(`SELECT COUNT(*) FROM tx WHERE hash = ?`, hash[:]).Scan(&exists); err != nil {
			return errors.Wrap(err, "check tx")
		}

		if exists > 0 {
			if _, err := dbTx.Exec(`UPDATE tx SET block_hash = ? WHERE hash = ?`, block.Hash[:], hash[:]); err != nil {
				return errors.Wrap(err, "migrate tx")
			}
			continue
		}

		if err := insertTransaction(dbTx, tx, block.Hash[:]); err != nil {
			return err
		}
	}

	return errors.Wrap(dbTx.Commit(), "commit")
}

// insertTransaction writes a transaction row with its inputs and outputs
// and applies the unspent output index rules: non coinbase inputs delete
// the entry they spend, every output inserts a new entry.
func insertTransaction(dbTx *sql.Tx, tx database.Tx, blockHash []byte) error {
	hash := tx.Hash()

	var exists int
	if err := dbTx.QueryRow(`SELECT COUNT(*) FROM tx WHERE hash = ?`, hash[:]).Scan(&exists); err != nil {
		return errors.Wrap(err, "check tx")
	}
	if exists > 0 {
		return ErrDuplicateTransaction
	}

	const insertTx = `INSERT INTO tx(hash, lock_time, in_count, out_count, block_hash) VALUES(?, ?, ?, ?, ?)`
	if _, err := dbTx.Exec(insertTx, hash[:], tx.LockTime, len(tx.Inputs), len(tx.Outputs), blockHash); err != nil {
		return errors.Wrap(err, "insert tx")
	}

	coinbase := tx.IsCoinbase()
	for _, in := range tx.Inputs {
		// A coinbase input carries no signature; it is stored as an empty
		// blob since the column does not accept NULL.
		sig := in.Signature
		if sig == nil {
			sig = []byte{}
		}

		const insertIn = `INSERT INTO txin(out_hash, out_idx, public_key, signature, tx_hash) VALUES(?, ?, ?, ?, ?)`
		if _, err := dbTx.Exec(insertIn, in.PreviousOutput.Hash[:], in.PreviousOutput.Index, in.PublicKey, sig, hash[:]); err != nil {
			return errors.Wrap(err, "insert txin")
		}

		if !coinbase {
			const spend = `DELETE FROM utxo WHERE outpoint_hash = ? AND outpoint_idx = ?`
			if _, err := dbTx.Exec(spend, in.PreviousOutput.Hash[:], in.PreviousOutput.Index); err != nil {
				return errors.Wrap(err, "spend utxo")
			}
		}
	}

	for i, out := range tx.Outputs {
		outHash := out.Hash()
		const insertOut = `INSERT INTO txout(value, address, hash, tx_hash) VALUES(?, ?, ?, ?)`
		if _, err := dbTx.Exec(insertOut, int64(out.Value), out.Address[:], outHash[:], hash[:]); err != nil {
			return errors.Wrap(err, "insert txout")
		}

		const insertUtxo = `INSERT INTO utxo(outpoint_hash, outpoint_idx, value, address) VALUES(?, ?, ?, ?)`
		if _, err := dbTx.Exec(insertUtxo, hash[:], i, int64(out.Value), out.Address[:]); err != nil {
			return errors.Wrap(err, "insert utxo")
		}
	}

	return nil
}

// =============================================================================

// Blocks returns the chain. With a nil anchor all blocks are returned in
// ascending timestamp order. With an anchor the blocks are returned in
// descending timestamp order up to and including the anchor; an anchor
// not on the chain fails with ErrUnknownBlock.
func (s *Store) Blocks(from *database.Hash) ([]database.Block, error) {
	order := "ASC"
	if from != nil {
		order = "DESC"
	}

	rows, err := s.db.Query(`SELECT hash, timestamp, nonce, prev_hash FROM block ORDER BY timestamp ` + order + `, rowid ` + order)
	if err != nil {
		return nil, errors.Wrap(err, "query blocks")
	}

	// Scan the block rows first and release the connection before the
	// per block transaction queries run.
	var blocks []database.Block
	found := false

	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}

		blocks = append(blocks, block)

		if from != nil && block.Hash == *from {
			found = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "iterate blocks")
	}
	rows.Close()

	if from != nil && !found {
		return nil, ErrUnknownBlock
	}

	for i := range blocks {
		txs, err := s.blockTransactions(blocks[i].Hash)
		if err != nil {
			return nil, err
		}
		blocks[i].Transactions = txs
	}

	return blocks, nil
}

// Mempool returns all transactions not yet associated with any block, in
// the order they were accepted.
func (s *Store) Mempool() ([]database.Tx, error) {
	refs, err := s.transactionRefs(`SELECT hash, lock_time FROM tx WHERE block_hash IS NULL ORDER BY rowid`)
	if err != nil {
		return nil, err
	}

	txs := make([]database.Tx, 0, len(refs))
	for _, ref := range refs {
		tx, err := s.loadTransaction(ref.hash, ref.lockTime)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

// LatestBlockHash returns the hash of the newest block, or the zero hash
// when the chain is empty.
func (s *Store) LatestBlockHash() (database.Hash, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT hash FROM block ORDER BY timestamp DESC, rowid DESC LIMIT 1`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		return database.ZeroHash, nil
	case err != nil:
		return database.ZeroHash, errors.Wrap(err, "query latest block")
	}

	return database.BytesToHash(raw)
}

// BlockHeight returns the count of blocks on the chain.
func (s *Store) BlockHeight() (uint64, error) {
	var count uint64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM block`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "query height")
	}

	return count, nil
}

// Balance sums the unspent output values held by the address.
func (s *Store) Balance(addr database.Address) (uint64, error) {
	var balance int64
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(value), 0) FROM utxo WHERE address = ?`, addr[:]).Scan(&balance); err != nil {
		return 0, errors.Wrap(err, "query balance")
	}

	return uint64(balance), nil
}

// Unspent returns the unspent output entries held by the address. The
// order is storage defined but stable.
func (s *Store) Unspent(addr database.Address) ([]database.UTXO, error) {
	rows, err := s.db.Query(`SELECT outpoint_hash, outpoint_idx, value, address FROM utxo WHERE address = ? ORDER BY id`, addr[:])
	if err != nil {
		return nil, errors.Wrap(err, "query unspent")
	}
	defer rows.Close()

	return scanUTXOs(rows)
}

// UnspentOutput looks up a single unspent output entry by its outpoint.
// The ok result is false when the outpoint is unknown or already spent.
func (s *Store) UnspentOutput(ref database.OutputRef) (database.UTXO, bool, error) {
	row := s.db.QueryRow(`SELECT outpoint_hash, outpoint_idx, value, address FROM utxo WHERE outpoint_hash = ? AND outpoint_idx = ?`, ref.Hash[:], ref.Index)

	utxo, err := scanUTXO(row)
	switch {
	case err == sql.ErrNoRows:
		return database.UTXO{}, false, nil
	case err != nil:
		return database.UTXO{}, false, err
	}

	return utxo, true, nil
}

// =============================================================================

// Payments derives the payment history for the owner of the public key:
// outputs received at the key's address, and outputs sent by the key.
// Change outputs, where sender and recipient agree, are filtered out.
// Coinbase rewards are attributed through the miner address the coinbase
// input carries.
func (s *Store) Payments(publicKey []byte) ([]database.Payment, error) {
	addr := database.NewAddress(publicKey)

	const query = `
		SELECT DISTINCT t.hash, t.lock_time FROM tx t
		LEFT JOIN txin i ON i.tx_hash = t.hash
		LEFT JOIN txout o ON o.tx_hash = t.hash
		WHERE i.public_key = ? OR o.address = ?
		ORDER BY t.rowid`

	refs, err := s.transactionRefs(query, publicKey, addr[:])
	if err != nil {
		return nil, err
	}

	var payments []database.Payment
	for _, ref := range refs {
		tx, err := s.loadTransaction(ref.hash, ref.lockTime)
		if err != nil {
			return nil, err
		}

		if tx.IsCoinbase() {
			miner, ok := tx.MinerAddress()
			if !ok || miner != addr {
				continue
			}
			for _, out := range tx.Outputs {
				payments = append(payments, database.Payment{
					TxHash:    ref.hash,
					Time:      tx.LockTime,
					Recipient: out.Address,
					Value:     out.Value,
					Coinbase:  true,
				})
			}
			continue
		}

		sender := database.NewAddress(tx.Inputs[0].PublicKey)
		for _, out := range tx.Outputs {
			if out.Address == sender {
				continue
			}
			if sender != addr && out.Address != addr {
				continue
			}
			payments = append(payments, database.Payment{
				TxHash:    ref.hash,
				Time:      tx.LockTime,
				Sender:    sender,
				Recipient: out.Address,
				Value:     out.Value,
			})
		}
	}

	return payments, nil
}

// =============================================================================

// txRef identifies a transaction row before its inputs and outputs are
// loaded.
type txRef struct {
	hash     database.Hash
	lockTime uint32
}

// transactionRefs scans (hash, lock_time) pairs for the specified query
// and releases the connection before any follow up queries run.
func (s *Store) transactionRefs(query string, args ...any) ([]txRef, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query tx refs")
	}
	defer rows.Close()

	var refs []txRef
	for rows.Next() {
		var raw []byte
		var lockTime uint32
		if err := rows.Scan(&raw, &lockTime); err != nil {
			return nil, errors.Wrap(err, "scan tx ref")
		}

		hash, err := database.BytesToHash(raw)
		if err != nil {
			return nil, errors.Wrap(err, "tx ref hash")
		}

		refs = append(refs, txRef{hash: hash, lockTime: lockTime})
	}

	return refs, errors.Wrap(rows.Err(), "iterate tx refs")
}

// blockTransactions loads the transactions of a block in their stored
// order.
func (s *Store) blockTransactions(blockHash database.Hash) ([]database.Tx, error) {
	refs, err := s.transactionRefs(`SELECT hash, lock_time FROM tx WHERE block_hash = ? ORDER BY rowid`, blockHash[:])
	if err != nil {
		return nil, err
	}

	txs := make([]database.Tx, 0, len(refs))
	for _, ref := range refs {
		tx, err := s.loadTransaction(ref.hash, ref.lockTime)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, nil
}

// loadTransaction reconstructs a full transaction from its rows.
func (s *Store) loadTransaction(hash database.Hash, lockTime uint32) (database.Tx, error) {
	tx := database.Tx{LockTime: lockTime}

	inRows, err := s.db.Query(`SELECT out_hash, out_idx, public_key, signature FROM txin WHERE tx_hash = ? ORDER BY id`, hash[:])
	if err != nil {
		return database.Tx{}, errors.Wrap(err, "query txins")
	}
	defer inRows.Close()

	for inRows.Next() {
		var rawHash, publicKey, sig []byte
		var idx uint32
		if err := inRows.Scan(&rawHash, &idx, &publicKey, &sig); err != nil {
			return database.Tx{}, errors.Wrap(err, "scan txin")
		}

		outHash, err := database.BytesToHash(rawHash)
		if err != nil {
			return database.Tx{}, errors.Wrap(err, "txin out hash")
		}

		tx.Inputs = append(tx.Inputs, database.TxInput{
			PreviousOutput: database.OutputRef{Hash: outHash, Index: idx},
			PublicKey:      publicKey,
			Signature:      sig,
		})
	}
	if err := inRows.Err(); err != nil {
		return database.Tx{}, errors.Wrap(err, "iterate txins")
	}

	outRows, err := s.db.Query(`SELECT value, address FROM txout WHERE tx_hash = ? ORDER BY id`, hash[:])
	if err != nil {
		return database.Tx{}, errors.Wrap(err, "query txouts")
	}
	defer outRows.Close()

	for outRows.Next() {
		var value int64
		var rawAddr []byte
		if err := outRows.Scan(&value, &rawAddr); err != nil {
			return database.Tx{}, errors.Wrap(err, "scan txout")
		}

		addrHash, err := database.BytesToHash(rawAddr)
		if err != nil {
			return database.Tx{}, errors.Wrap(err, "txout address")
		}

		tx.Outputs = append(tx.Outputs, database.TxOutput{
			Value:   uint64(value),
			Address: database.Address(addrHash),
		})
	}
	if err := outRows.Err(); err != nil {
		return database.Tx{}, errors.Wrap(err, "iterate txouts")
	}

	return tx, nil
}

// =============================================================================

// scanner is the single row surface shared by sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanBlock reads one block row without its transactions.
func scanBlock(row scanner) (database.Block, error) {
	var rawHash, rawPrev []byte
	var timestamp, nonce uint32
	if err := row.Scan(&rawHash, &timestamp, &nonce, &rawPrev); err != nil {
		return database.Block{}, errors.Wrap(err, "scan block")
	}

	hash, err := database.BytesToHash(rawHash)
	if err != nil {
		return database.Block{}, errors.Wrap(err, "block hash")
	}
	prev, err := database.BytesToHash(rawPrev)
	if err != nil {
		return database.Block{}, errors.Wrap(err, "block prev hash")
	}

	return database.Block{
		Timestamp: timestamp,
		Nonce:     nonce,
		Hash:      hash,
		PrevHash:  prev,
	}, nil
}

// scanUTXO reads one unspent output row.
func scanUTXO(row scanner) (database.UTXO, error) {
	var rawHash, rawAddr []byte
	var idx uint32
	var value int64
	if err := row.Scan(&rawHash, &idx, &value, &rawAddr); err != nil {
		return database.UTXO{}, err
	}

	hash, err := database.BytesToHash(rawHash)
	if err != nil {
		return database.UTXO{}, errors.Wrap(err, "utxo outpoint hash")
	}
	addrHash, err := database.BytesToHash(rawAddr)
	if err != nil {
		return database.UTXO{}, errors.Wrap(err, "utxo address")
	}

	return database.UTXO{
		OutpointHash:  hash,
		OutpointIndex: idx,
		Value:         uint64(value),
		Address:       database.Address(addrHash),
	}, nil
}

// scanUTXOs reads a set of unspent output rows.
func scanUTXOs(rows *sql.Rows) ([]database.UTXO, error) {
	var utxos []database.UTXO
	for rows.Next() {
		utxo, err := scanUTXO(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan utxo")
		}
		utxos = append(utxos, utxo)
	}

	return utxos, errors.Wrap(rows.Err(), "iterate utxos")
}
