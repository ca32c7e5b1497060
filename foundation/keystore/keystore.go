// Package keystore manages the named ECDSA key pairs stored in the node's
// keys folder and creates an address lookup for their names.
package keystore

import (
	"crypto/ecdsa"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/hubcoin/hubcoin/foundation/blockchain/signature"
)

// keyExtension is appended to the key name to form the file name on disk.
const keyExtension = ".ecdsa"

// ErrNotFound is returned when no key pair exists under the given name.
var ErrNotFound = fmt.Errorf("key pair not found")

// KeyStore provides access to the key pairs under a folder on disk.
type KeyStore struct {
	folder string
}

// New constructs a KeyStore rooted at the specified folder, creating the
// folder if needed.
func New(folder string) (*KeyStore, error) {
	if err := os.MkdirAll(folder, 0700); err != nil {
		return nil, fmt.Errorf("creating keys folder: %w", err)
	}

	return &KeyStore{folder: folder}, nil
}

// Generate creates a new key pair under the specified name. When persist
// is false the key exists only in memory.
func (ks *KeyStore) Generate(name string, persist bool) (*ecdsa.PrivateKey, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	if persist {
		if err := crypto.SaveECDSA(ks.path(name), privateKey); err != nil {
			return nil, fmt.Errorf("saving key: %w", err)
		}
	}

	return privateKey, nil
}

// Load reads the key pair stored under the specified name. ErrNotFound is
// returned when no such key exists.
func (ks *KeyStore) Load(name string) (*ecdsa.PrivateKey, error) {
	p := ks.path(name)
	if _, err := os.Stat(p); err != nil {
		return nil, ErrNotFound
	}

	privateKey, err := crypto.LoadECDSA(p)
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}

	return privateKey, nil
}

// LoadOrGenerate reads the named key pair, creating and persisting it
// first when it doesn't exist yet.
func (ks *KeyStore) LoadOrGenerate(name string) (*ecdsa.PrivateKey, error) {
	privateKey, err := ks.Load(name)
	if err == nil {
		return privateKey, nil
	}

	return ks.Generate(name, true)
}

// Copy walks the keys folder and returns a lookup of addresses to key
// names for documentation in the logs.
func (ks *KeyStore) Copy() (map[database.Address]string, error) {
	names := make(map[database.Address]string)

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != keyExtension {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return err
		}

		addr := signature.PublicKeyToAddress(&privateKey.PublicKey)
		names[addr] = strings.TrimSuffix(path.Base(fileName), keyExtension)

		return nil
	}

	if err := filepath.Walk(ks.folder, fn); err != nil {
		return nil, fmt.Errorf("walking keys folder: %w", err)
	}

	return names, nil
}

// path builds the on disk file name for a key name.
func (ks *KeyStore) path(name string) string {
	if !strings.HasSuffix(name, keyExtension) {
		name += keyExtension
	}

	return filepath.Join(ks.folder, name)
}
