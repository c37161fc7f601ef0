package tonapi

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/suspectuso/content-unlock/internal/ledger"
)

// NativeAsset is the asset id used for plain TON transfers
const NativeAsset = "TON"

// Ledger adapts TonAPI events to ledger.Transaction.
//
// TonAPI reports value flows rather than account snapshots, so every owner
// touched by the event gets a zero pre-balance and a post-balance equal to its
// net flow for the asset.
type Ledger struct {
	client *Client
}

// NewLedger creates a ledger adapter over client
func NewLedger(client *Client) *Ledger {
	return &Ledger{client: client}
}

// NormalizeAddress converts to raw form so friendly and raw addresses compare equal
func (l *Ledger) NormalizeAddress(addr string) string {
	return NormalizeAddress(addr)
}

// FetchFinalizedTransaction loads the event for txHash and folds its transfers into balances
func (l *Ledger) FetchFinalizedTransaction(ctx context.Context, txHash string) (*ledger.Transaction, error) {
	event, err := l.client.GetEventByHash(ctx, txHash)
	if errors.Is(err, ErrNotFound) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if event.InProgress {
		return nil, ledger.ErrNotFinalized
	}

	tx := &ledger.Transaction{Ref: txHash, ExecutedOK: true}
	flows := newFlowSet()

	for _, action := range event.Actions {
		if action.Status != ActionStatusOK {
			tx.ExecutedOK = false
		}

		switch {
		case action.Type == "TonTransfer" && action.TonTransfer != nil:
			tt := action.TonTransfer
			amount := big.NewInt(tt.Amount)
			flows.move(NormalizeAddress(tt.Sender.Address), NormalizeAddress(tt.Recipient.Address), NativeAsset, amount)
			if tx.FeePayer == "" {
				tx.FeePayer = NormalizeAddress(tt.Sender.Address)
			}

		case action.Type == "JettonTransfer" && action.JettonTransfer != nil:
			jt := action.JettonTransfer
			amount, ok := new(big.Int).SetString(jt.Amount, 10)
			if !ok {
				return nil, fmt.Errorf("invalid jetton amount %q in event %s", jt.Amount, event.EventID)
			}
			var from, to string
			if jt.Sender != nil {
				from = NormalizeAddress(jt.Sender.Address)
			}
			if jt.Recipient != nil {
				to = NormalizeAddress(jt.Recipient.Address)
			}
			flows.move(from, to, NormalizeAddress(jt.Jetton.Address), amount)
			if tx.FeePayer == "" {
				tx.FeePayer = from
			}
		}
	}

	tx.PostBalances = flows.balances()
	return tx, nil
}

type flowKey struct {
	owner string
	asset string
}

type flowSet struct {
	order  []flowKey
	totals map[flowKey]*big.Int
}

func newFlowSet() *flowSet {
	return &flowSet{totals: make(map[flowKey]*big.Int)}
}

func (f *flowSet) add(owner, asset string, amount *big.Int) {
	if owner == "" {
		return
	}
	key := flowKey{owner: owner, asset: asset}
	total, ok := f.totals[key]
	if !ok {
		total = new(big.Int)
		f.totals[key] = total
		f.order = append(f.order, key)
	}
	total.Add(total, amount)
}

func (f *flowSet) move(from, to, asset string, amount *big.Int) {
	f.add(from, asset, new(big.Int).Neg(amount))
	f.add(to, asset, amount)
}

func (f *flowSet) balances() []ledger.Balance {
	out := make([]ledger.Balance, 0, len(f.order))
	for _, key := range f.order {
		out = append(out, ledger.Balance{
			Owner:   key.owner,
			AssetID: key.asset,
			Amount:  new(big.Int).Set(f.totals[key]),
		})
	}
	return out
}
