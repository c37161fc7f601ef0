package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetChange(t *testing.T) {
	tx := &Transaction{
		PreBalances: []Balance{
			{Owner: "creator", AssetID: "usdc", Amount: big.NewInt(100)},
			{Owner: "buyer", AssetID: "usdc", Amount: big.NewInt(5_000)},
			{Owner: "creator", AssetID: "other", Amount: big.NewInt(7)},
		},
		PostBalances: []Balance{
			{Owner: "creator", AssetID: "usdc", Amount: big.NewInt(1_000)},
			{Owner: "platform", AssetID: "usdc", Amount: big.NewInt(100)},
			{Owner: "buyer", AssetID: "usdc", Amount: big.NewInt(4_000)},
			{Owner: "creator", AssetID: "other", Amount: big.NewInt(1_000_000)},
		},
	}

	require.Equal(t, int64(900), tx.NetChange("creator", "usdc").Int64())
	require.Equal(t, int64(100), tx.NetChange("platform", "usdc").Int64(), "missing pre-balance counts as zero")
	require.Equal(t, int64(-1_000), tx.NetChange("buyer", "usdc").Int64())
	require.Equal(t, int64(0), tx.NetChange("stranger", "usdc").Int64())
}

type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (f *flakyClient) NormalizeAddress(addr string) string { return addr }

func (f *flakyClient) FetchFinalizedTransaction(ctx context.Context, txRef string) (*Transaction, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &Transaction{Ref: txRef, ExecutedOK: true}, nil
}

func testPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWithRetryRecoversFromTransientErrors(t *testing.T) {
	inner := &flakyClient{failures: 2, err: errors.New("connection reset")}
	client := WithRetry(inner, testPolicy(3), discardLogger())

	tx, err := client.FetchFinalizedTransaction(context.Background(), "SIG1")
	require.NoError(t, err)
	require.Equal(t, "SIG1", tx.Ref)
	require.Equal(t, 3, inner.calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	inner := &flakyClient{failures: 10, err: errors.New("timeout")}
	client := WithRetry(inner, testPolicy(2), discardLogger())

	_, err := client.FetchFinalizedTransaction(context.Background(), "SIG1")
	require.Error(t, err)
	require.Equal(t, 3, inner.calls)
}

func TestWithRetryDoesNotRetryNotFound(t *testing.T) {
	inner := &flakyClient{failures: 10, err: ErrNotFound}
	client := WithRetry(inner, testPolicy(5), discardLogger())

	_, err := client.FetchFinalizedTransaction(context.Background(), "SIG1")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, inner.calls)
}
