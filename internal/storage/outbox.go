package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// MaxNotificationAttempts stops redelivery of a notification that keeps failing
const MaxNotificationAttempts = 5

func (s *Storage) enqueueNotification(ctx context.Context, tx *sql.Tx, post *settlementPost, rec *UnlockRecord) error {
	buyer := ""
	if rec.BuyerWallet != nil {
		buyer = *rec.BuyerWallet
	}

	_, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO notification_outbox (id, chat_id, unlock_id, post_id, post_title, payout, buyer_wallet, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), post.chatID.Int64, rec.ID, post.postID, post.title, rec.CreatorPayout, buyer, rec.CreatedAt.Unix(),
	)
	return err
}

// PendingNotifications returns undelivered notifications, oldest first
func (s *Storage) PendingNotifications(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, chat_id, unlock_id, post_id, post_title, payout, buyer_wallet, attempts, created_at
		 FROM notification_outbox
		 WHERE sent_at IS NULL AND attempts < ?
		 ORDER BY created_at, id
		 LIMIT ?`),
		MaxNotificationAttempts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.ChatID, &n.UnlockID, &n.PostID, &n.PostTitle, &n.Payout,
			&n.BuyerWallet, &n.Attempts, &createdAt); err != nil {
			return nil, err
		}
		n.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationSent records successful delivery
func (s *Storage) MarkNotificationSent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE notification_outbox SET sent_at = ?, attempts = attempts + 1 WHERE id = ?`),
		time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkNotificationFailed counts a failed delivery attempt
func (s *Storage) MarkNotificationFailed(ctx context.Context, id string, cause string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE notification_outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`),
		cause, id,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
