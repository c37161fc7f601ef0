// Package notifier delivers queued creator sale notifications.
package notifier

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/suspectuso/content-unlock/internal/metrics"
	"github.com/suspectuso/content-unlock/internal/storage"
	"github.com/suspectuso/content-unlock/internal/tonapi"
)

const batchSize = 20

type Sender interface {
	SendNotification(ctx context.Context, chatID int64, text string) error
}

type Store interface {
	PendingNotifications(ctx context.Context, limit int) ([]storage.Notification, error)
	MarkNotificationSent(ctx context.Context, id string) error
	MarkNotificationFailed(ctx context.Context, id string, cause string) error
}

// Asset describes how payouts are displayed
type Asset struct {
	Symbol   string
	Decimals int
	// FormatAddress renders a buyer wallet before shortening; nil keeps it as stored.
	FormatAddress func(addr string) string
}

// Dispatcher drains the notification outbox written at settlement time
type Dispatcher struct {
	store  Store
	sender Sender
	asset  Asset
	log    *slog.Logger
}

func NewDispatcher(store Store, sender Sender, asset Asset, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sender: sender,
		asset:  asset,
		log:    log,
	}
}

// Start runs the delivery loop until ctx is done
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	d.log.Info("notification dispatcher started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.log.Error("dispatch notifications", "error", err)
			}
		}
	}
}

// DispatchOnce sends one batch of pending notifications and returns how many were delivered
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.store.PendingNotifications(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending notifications: %w", err)
	}

	delivered := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		if err := d.sender.SendNotification(ctx, n.ChatID, d.formatSale(n)); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			d.log.Warn("send sale notification",
				"error", err,
				"notification_id", n.ID,
				"attempt", n.Attempts+1,
			)
			if err := d.store.MarkNotificationFailed(ctx, n.ID, err.Error()); err != nil {
				d.log.Error("mark notification failed", "error", err, "notification_id", n.ID)
			}
			continue
		}

		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
		if err := d.store.MarkNotificationSent(ctx, n.ID); err != nil {
			d.log.Error("mark notification sent", "error", err, "notification_id", n.ID)
			continue
		}
		delivered++
	}

	if delivered > 0 {
		d.log.Info("sale notifications delivered", "count", delivered)
	}
	return delivered, nil
}

func (d *Dispatcher) formatSale(n storage.Notification) string {
	lines := []string{
		"💰 <b>New unlock</b>",
		"",
		fmt.Sprintf("<b>%s</b>", html.EscapeString(n.PostTitle)),
		fmt.Sprintf("+%s %s", FormatUnits(n.Payout, d.asset.Decimals), html.EscapeString(d.asset.Symbol)),
	}
	if n.BuyerWallet != "" {
		wallet := n.BuyerWallet
		if d.asset.FormatAddress != nil {
			wallet = d.asset.FormatAddress(wallet)
		}
		lines = append(lines, "", fmt.Sprintf("Buyer: <code>%s</code>", html.EscapeString(tonapi.ShortAddr(wallet, 4))))
	}
	return strings.Join(lines, "\n")
}

// FormatUnits renders an amount of smallest units with decimals places, trimming trailing zeros
func FormatUnits(amount int64, decimals int) string {
	// Strip the sign from the text form; negating math.MinInt64 overflows.
	digits := strconv.FormatInt(amount, 10)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if decimals <= 0 {
		return sign + digits
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}

	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}
