package state

import (
	"crypto/ecdsa"
	"time"

	"github.com/hubcoin/hubcoin/foundation/blockchain/database"
	"github.com/hubcoin/hubcoin/foundation/blockchain/signature"
	"github.com/hubcoin/hubcoin/foundation/blockchain/wire"
)

// CreateTransaction builds, signs, persists, and broadcasts a spend of
// the specified value from the wallet's address to the recipient.
func (s *State) CreateTransaction(privateKey *ecdsa.PrivateKey, recipient database.Address, value uint64) (database.Tx, error) {
	s.evHandler("state: CreateTransaction: started: to[%s] value[%d]", recipient, value)
	defer s.evHandler("state: CreateTransaction: completed")

	sender := signature.PublicKeyToAddress(&privateKey.PublicKey)

	if value == 0 {
		return database.Tx{}, ErrInvalidValue
	}
	if recipient == sender {
		return database.Tx{}, ErrSourceEqualsDestination
	}

	balance, err := s.chain.Balance(sender)
	if err != nil {
		return database.Tx{}, err
	}
	if balance < value {
		return database.Tx{}, &InsufficientBalanceError{Overdraft: value - balance}
	}

	// Accumulate unspent outputs in storage order until they cover the
	// value being sent.
	utxos, err := s.chain.Unspent(sender)
	if err != nil {
		return database.Tx{}, err
	}

	var spendValue uint64
	var selected []database.UTXO
	for _, utxo := range utxos {
		selected = append(selected, utxo)
		spendValue += utxo.Value
		if spendValue >= value {
			break
		}
	}
	if spendValue < value {
		return database.Tx{}, &InsufficientBalanceError{Overdraft: value - spendValue}
	}

	// Sign each accumulated output's outpoint hash and verify the produced
	// signature before letting the transaction out the door.
	publicKey := signature.PublicBytes(&privateKey.PublicKey)

	inputs := make([]database.TxInput, 0, len(selected))
	for _, utxo := range selected {
		sig, err := signature.Sign(privateKey, utxo.OutpointHash)
		if err != nil {
			return database.Tx{}, ErrUnverifiedTransaction
		}
		if !signature.Verify(publicKey, utxo.OutpointHash, sig) {
			return database.Tx{}, ErrUnverifiedTransaction
		}

		inputs = append(inputs, database.TxInput{
			PreviousOutput: utxo.OutputRef(),
			PublicKey:      publicKey,
			Signature:      sig,
		})
	}

	outputs := []database.TxOutput{
		{Value: value, Address: recipient},
	}
	if change := spendValue - value; change > 0 {
		outputs = append(outputs, database.TxOutput{Value: change, Address: sender})
	}

	tx := database.Tx{
		Inputs:   inputs,
		Outputs:  outputs,
		LockTime: uint32(time.Now().Unix()),
	}

	s.evHandler("state: CreateTransaction: persist tx[%s]", tx.Hash())

	if err := s.chain.AddTransaction(tx); err != nil {
		return database.Tx{}, err
	}

	s.broadcast(wire.CmdTransactions, wire.TransactionsPayload{Transactions: []database.Tx{tx}})

	return tx, nil
}
