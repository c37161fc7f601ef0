package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suspectuso/content-unlock/internal/storage"
	"github.com/suspectuso/content-unlock/internal/tonapi"
)

type message struct {
	chatID int64
	text   string
}

type fakeSender struct {
	fail bool
	sent []message
}

func (f *fakeSender) SendNotification(_ context.Context, chatID int64, text string) error {
	if f.fail {
		return errors.New("telegram: too many requests")
	}
	f.sent = append(f.sent, message{chatID: chatID, text: text})
	return nil
}

func settleSale(t *testing.T, store *storage.Storage, chatID *int64) {
	t.Helper()
	settleSaleFrom(t, store, chatID, "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
}

func settleSaleFrom(t *testing.T, store *storage.Storage, chatID *int64, buyer string) {
	t.Helper()
	ctx := context.Background()

	creator, err := store.CreateCreator(ctx, "ava", "CreatorWallet", chatID)
	require.NoError(t, err)
	post, err := store.CreatePost(ctx, creator.ID, "Golden <hour>", 1_000_000)
	require.NoError(t, err)
	_, created, err := store.CreateOrGetUnlock(ctx, storage.NewUnlock{
		PostID:        post.ID,
		TxRef:         "SIG-" + post.ID,
		BuyerWallet:   buyer,
		Amount:        1_000_000,
		PlatformFee:   100_000,
		CreatorPayout: 900_000,
		Kind:          storage.KindPayment,
	})
	require.NoError(t, err)
	require.True(t, created)
}

func newDispatcher(t *testing.T, sender Sender) (*Dispatcher, *storage.Storage) {
	t.Helper()
	return newDispatcherWithAsset(t, sender, Asset{Symbol: "USDC", Decimals: 6})
}

func newDispatcherWithAsset(t *testing.T, sender Sender, asset Asset) (*Dispatcher, *storage.Storage) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "unlock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(store, sender, asset, log), store
}

func TestDispatchOnceDeliversAndMarks(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcher(t, sender)
	chatID := int64(4242)
	settleSale(t, store, &chatID)
	settleSale(t, store, nil)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, sender.sent, 1)
	require.Equal(t, chatID, sender.sent[0].chatID)
	require.Contains(t, sender.sent[0].text, "<b>Golden &lt;hour&gt;</b>")
	require.Contains(t, sender.sent[0].text, "+0.9 USDC")
	require.Contains(t, sender.sent[0].text, "7xKX...gAsU")

	n, err = d.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, sender.sent, 1)
}

func TestDispatchOnceShowsFriendlyTonBuyer(t *testing.T) {
	sender := &fakeSender{}
	d, store := newDispatcherWithAsset(t, sender, Asset{
		Symbol:        "USDT",
		Decimals:      6,
		FormatAddress: tonapi.RawToFriendly,
	})
	buyerRaw := "0:" + strings.Repeat("a1", 32)
	chatID := int64(77)
	settleSaleFrom(t, store, &chatID, buyerRaw)

	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	friendly := tonapi.RawToFriendly(buyerRaw)
	require.NotEqual(t, buyerRaw, friendly)
	require.Contains(t, sender.sent[0].text, tonapi.ShortAddr(friendly, 4))
	require.NotContains(t, sender.sent[0].text, "0:a1")
}

func TestDispatchOnceGivesUpAfterMaxAttempts(t *testing.T) {
	sender := &fakeSender{fail: true}
	d, store := newDispatcher(t, sender)
	chatID := int64(4242)
	settleSale(t, store, &chatID)

	for i := 0; i < storage.MaxNotificationAttempts; i++ {
		n, err := d.DispatchOnce(context.Background())
		require.NoError(t, err)
		require.Zero(t, n)
	}

	pending, err := store.PendingNotifications(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	sender.fail = false
	n, err := d.DispatchOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, sender.sent)
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		amount   int64
		decimals int
		want     string
	}{
		{900_000, 6, "0.9"},
		{1_000_000, 6, "1"},
		{1_234_567, 6, "1.234567"},
		{5, 6, "0.000005"},
		{0, 6, "0"},
		{-1_500_000, 6, "-1.5"},
		{42, 0, "42"},
		{1_500_000_000, 9, "1.5"},
		{math.MinInt64, 6, "-9223372036854.775808"},
		{math.MaxInt64, 0, "9223372036854775807"},
		{-5, 6, "-0.000005"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, FormatUnits(tc.amount, tc.decimals), "amount %d decimals %d", tc.amount, tc.decimals)
	}
}
