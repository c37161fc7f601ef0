package tonapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suspectuso/content-unlock/internal/ledger"
	"github.com/suspectuso/content-unlock/internal/payment"
)

var (
	buyerRaw    = "0:" + strings.Repeat("a1", 32)
	creatorRaw  = "0:" + strings.Repeat("b2", 32)
	platformRaw = "0:" + strings.Repeat("c3", 32)
	usdtMaster  = "0:" + strings.Repeat("d4", 32)
)

func eventServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.True(t, strings.HasPrefix(r.URL.Path, "/events/"))
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func jettonTransfer(status, from, to, amount string) string {
	return fmt.Sprintf(`{
		"type": "JettonTransfer",
		"status": %q,
		"JettonTransfer": {
			"sender": {"address": %q},
			"recipient": {"address": %q},
			"amount": %q,
			"jetton": {"address": %q, "symbol": "USDT", "decimals": 6}
		}
	}`, status, from, to, amount, usdtMaster)
}

func TestLedgerFoldsJettonTransfers(t *testing.T) {
	body := fmt.Sprintf(`{"event_id": "ev1", "in_progress": false, "actions": [%s, %s, %s]}`,
		jettonTransfer("ok", buyerRaw, creatorRaw, "900000"),
		jettonTransfer("ok", buyerRaw, platformRaw, "100000"),
		`{"type": "TonTransfer", "status": "ok", "TonTransfer": {"sender": {"address": "`+buyerRaw+`"}, "recipient": {"address": "`+creatorRaw+`"}, "amount": 5}}`,
	)
	srv := eventServer(t, http.StatusOK, body)
	l := NewLedger(NewClient(srv.URL, "key", 100))

	tx, err := l.FetchFinalizedTransaction(context.Background(), "hash1")
	require.NoError(t, err)
	require.True(t, tx.ExecutedOK)
	require.Equal(t, buyerRaw, tx.FeePayer)
	require.Equal(t, int64(900_000), tx.NetChange(creatorRaw, usdtMaster).Int64())
	require.Equal(t, int64(100_000), tx.NetChange(platformRaw, usdtMaster).Int64())
	require.Equal(t, int64(-1_000_000), tx.NetChange(buyerRaw, usdtMaster).Int64())
	require.Equal(t, int64(5), tx.NetChange(creatorRaw, NativeAsset).Int64())
}

func TestLedgerFailedAction(t *testing.T) {
	body := fmt.Sprintf(`{"event_id": "ev2", "actions": [%s]}`, jettonTransfer("failed", buyerRaw, creatorRaw, "900000"))
	srv := eventServer(t, http.StatusOK, body)
	l := NewLedger(NewClient(srv.URL, "key", 100))

	tx, err := l.FetchFinalizedTransaction(context.Background(), "hash2")
	require.NoError(t, err)
	require.False(t, tx.ExecutedOK)
}

func TestLedgerNotFound(t *testing.T) {
	srv := eventServer(t, http.StatusNotFound, `{"error": "entity not found"}`)
	l := NewLedger(NewClient(srv.URL, "key", 100))

	_, err := l.FetchFinalizedTransaction(context.Background(), "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLedgerInProgress(t *testing.T) {
	srv := eventServer(t, http.StatusOK, `{"event_id": "ev3", "in_progress": true, "actions": []}`)
	l := NewLedger(NewClient(srv.URL, "key", 100))

	_, err := l.FetchFinalizedTransaction(context.Background(), "pending")
	require.ErrorIs(t, err, ledger.ErrNotFinalized)
}

func TestLedgerVerifiesWithFriendlyConfig(t *testing.T) {
	body := fmt.Sprintf(`{"event_id": "ev4", "in_progress": false, "actions": [%s, %s]}`,
		jettonTransfer("ok", buyerRaw, creatorRaw, "900000"),
		jettonTransfer("ok", buyerRaw, platformRaw, "100000"),
	)
	srv := eventServer(t, http.StatusOK, body)
	l := NewLedger(NewClient(srv.URL, "key", 100))

	v := payment.NewVerifier(l, payment.Config{
		PlatformWallet: RawToFriendly(platformRaw),
		AssetID:        RawToFriendly(usdtMaster),
		FeeBps:         1000,
		Tolerance:      1,
	})
	res, err := v.Verify(context.Background(), payment.Expectation{
		TxRef:     "hash4",
		Recipient: RawToFriendly(creatorRaw),
		Amount:    1_000_000,
	})
	require.NoError(t, err)
	require.True(t, res.Valid, res.Reason)
	require.Equal(t, int64(900_000), res.CreatorPayout)
	require.Equal(t, buyerRaw, res.BuyerWallet)
}

func TestNormalizeAddress(t *testing.T) {
	require.Equal(t, creatorRaw, NormalizeAddress("  "+creatorRaw+" "))
	friendly := RawToFriendly(creatorRaw)
	require.NotEqual(t, creatorRaw, friendly)
	require.Equal(t, creatorRaw, NormalizeAddress(friendly))
	require.Equal(t, "not-an-address", NormalizeAddress("not-an-address"))
}

func TestShortAddr(t *testing.T) {
	require.Equal(t, "unknown", ShortAddr("", 4))
	require.Equal(t, "abc", ShortAddr("abc", 4))
	require.Equal(t, "0:b2...b2b2", ShortAddr(creatorRaw, 4))
}
