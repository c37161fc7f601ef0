// Package ledger defines the narrow read contract the settlement engine needs
// from a public ledger: a finalized transaction with per-owner asset balances.
package ledger

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrNotFound means the ledger has no finalized transaction for the reference.
	// It is terminal: asking again will not produce a different answer.
	ErrNotFound = errors.New("transaction not found")

	// ErrNotFinalized means the transaction exists but is not final yet. Retryable.
	ErrNotFinalized = errors.New("transaction not finalized")
)

// Balance is an owner's holding of one asset, in smallest units.
type Balance struct {
	Owner   string
	AssetID string
	Amount  *big.Int
}

// Transaction is a finalized ledger transaction.
type Transaction struct {
	Ref          string
	ExecutedOK   bool
	PreBalances  []Balance
	PostBalances []Balance
	FeePayer     string
}

// Client fetches finalized transactions. Owner addresses in returned balances
// are already in the form produced by NormalizeAddress.
type Client interface {
	FetchFinalizedTransaction(ctx context.Context, txRef string) (*Transaction, error)
	NormalizeAddress(addr string) string
}

// NetChange returns post minus pre balance of owner for assetID.
// A missing entry on either side counts as zero.
func (t *Transaction) NetChange(owner, assetID string) *big.Int {
	return new(big.Int).Sub(sumBalances(t.PostBalances, owner, assetID), sumBalances(t.PreBalances, owner, assetID))
}

func sumBalances(balances []Balance, owner, assetID string) *big.Int {
	total := new(big.Int)
	for _, b := range balances {
		if b.Owner != owner || b.AssetID != assetID || b.Amount == nil {
			continue
		}
		total.Add(total, b.Amount)
	}
	return total
}
