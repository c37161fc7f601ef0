// Package payment decides whether a ledger transaction pays a post's price
// with the expected creator/platform split.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/suspectuso/content-unlock/internal/ledger"
)

const basisPointsDenominator = 10_000

// Rejection reasons
const (
	ReasonNotFoundOrFailed = "transaction not found or failed"
	ReasonCreatorMismatch  = "creator payout mismatch"
	ReasonPlatformMismatch = "platform fee mismatch"
)

// Config fixes the platform side of every verification.
type Config struct {
	PlatformWallet string
	AssetID        string
	FeeBps         int64
	// Tolerance is the absolute per-leg slack, in smallest units.
	Tolerance int64
}

// Expectation is what a single unlock claims to have paid.
type Expectation struct {
	TxRef     string
	Recipient string
	Amount    int64
}

// Result is never persisted.
type Result struct {
	Valid         bool
	Amount        int64
	PlatformFee   int64
	CreatorPayout int64
	BuyerWallet   string
	Reason        string
}

// Verifier performs no writes.
type Verifier struct {
	client ledger.Client
	cfg    Config
}

// NewVerifier normalizes the platform wallet and asset id once through the
// ledger client, so balances keyed by canonical addresses match either form.
func NewVerifier(client ledger.Client, cfg Config) *Verifier {
	cfg.PlatformWallet = client.NormalizeAddress(cfg.PlatformWallet)
	cfg.AssetID = client.NormalizeAddress(cfg.AssetID)
	return &Verifier{client: client, cfg: cfg}
}

// Split computes floor(amount*bps/10000) as the platform fee and the rest as creator payout.
func Split(amount, feeBps int64) (platformFee, creatorPayout int64) {
	if amount <= 0 || feeBps <= 0 {
		return 0, amount
	}
	fee := new(uint256.Int).Mul(uint256.NewInt(uint64(amount)), uint256.NewInt(uint64(feeBps)))
	fee.Div(fee, uint256.NewInt(basisPointsDenominator))
	platformFee = int64(fee.Uint64())
	return platformFee, amount - platformFee
}

// Verify checks txRef against exp. A non-nil error means the ledger could not
// be read and the same request may be retried; an invalid Result is final.
func (v *Verifier) Verify(ctx context.Context, exp Expectation) (Result, error) {
	tx, err := v.client.FetchFinalizedTransaction(ctx, exp.TxRef)
	if errors.Is(err, ledger.ErrNotFound) {
		return Result{Reason: ReasonNotFoundOrFailed}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("fetch transaction %s: %w", exp.TxRef, err)
	}
	if !tx.ExecutedOK {
		return Result{Reason: ReasonNotFoundOrFailed}, nil
	}

	fee, payout := Split(exp.Amount, v.cfg.FeeBps)
	res := Result{
		Amount:        exp.Amount,
		PlatformFee:   fee,
		CreatorPayout: payout,
		BuyerWallet:   tx.FeePayer,
	}

	recipient := v.client.NormalizeAddress(exp.Recipient)
	if !v.withinTolerance(tx.NetChange(recipient, v.cfg.AssetID), payout) {
		res.Reason = ReasonCreatorMismatch
		return res, nil
	}
	if !v.withinTolerance(tx.NetChange(v.cfg.PlatformWallet, v.cfg.AssetID), fee) {
		res.Reason = ReasonPlatformMismatch
		return res, nil
	}

	res.Valid = true
	return res, nil
}

func (v *Verifier) withinTolerance(observed *big.Int, expected int64) bool {
	diff := new(big.Int).Sub(observed, big.NewInt(expected))
	return diff.Abs(diff).Cmp(big.NewInt(v.cfg.Tolerance)) <= 0
}
