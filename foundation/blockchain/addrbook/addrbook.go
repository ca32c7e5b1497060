// Package addrbook persists the set of peers a node has learned about so
// the network re-forms after a restart.
package addrbook

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/hubcoin/hubcoin/foundation/blockchain/peer"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var bucketPeers = []byte("peers")

// Book wraps a bbolt database holding one record per known peer.
type Book struct {
	db *bbolt.DB
}

// New opens or creates the address book at dbPath. The parent directory
// is created if it does not exist.
func New(dbPath string) (*Book, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, errors.Wrap(err, "create directory")
	}

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open address book")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPeers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create bucket")
	}

	return &Book{db: db}, nil
}

// Close closes the underlying database.
func (b *Book) Close() error {
	return b.db.Close()
}

// Add records a peer, keyed by its endpoint. Adding is idempotent.
func (b *Book) Add(p peer.Peer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode peer")
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).Put([]byte(p.String()), data)
	})
	return errors.Wrap(err, "put peer")
}

// Remove deletes a peer record.
func (b *Book) Remove(p peer.Peer) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(p.String()))
	})
	return errors.Wrap(err, "delete peer")
}

// Peers returns every recorded peer.
func (b *Book) Peers() ([]peer.Peer, error) {
	var peers []peer.Peer

	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			var p peer.Peer
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			peers = append(peers, p)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "read peers")
	}

	return peers, nil
}
