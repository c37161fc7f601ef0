package storage

import (
	"context"
	"database/sql"
	"errors"
)

type settlementPost struct {
	postID    string
	title     string
	creatorID string
	chatID    sql.NullInt64
}

func (s *Storage) loadSettlementPost(ctx context.Context, tx *sql.Tx, postID string) (*settlementPost, error) {
	t := settlementPost{postID: postID}
	err := tx.QueryRowContext(ctx, s.rebind(
		`SELECT p.title, p.creator_id, c.telegram_chat_id
		 FROM posts p JOIN creators c ON c.id = p.creator_id
		 WHERE p.id = ?`),
		postID,
	).Scan(&t.title, &t.creatorID, &t.chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// recordSettlement bumps the post's unlock count and, for paid unlocks, the
// post revenue and creator aggregates. Must only run for a newly inserted unlock.
func (s *Storage) recordSettlement(ctx context.Context, tx *sql.Tx, postID, creatorID string, payout int64) error {
	if payout < 0 {
		payout = 0
	}

	result, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE posts SET unlock_count = unlock_count + 1, revenue_amount = revenue_amount + ?
		 WHERE id = ?`),
		payout, postID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	if payout == 0 {
		return nil
	}

	result, err = tx.ExecContext(ctx, s.rebind(
		`UPDATE creators SET total_unlocks = total_unlocks + 1, total_revenue = total_revenue + ?
		 WHERE id = ?`),
		payout, creatorID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// PostStats returns a snapshot of a post's counters
func (s *Storage) PostStats(ctx context.Context, postID string) (*PostStats, error) {
	st := PostStats{PostID: postID}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT unlock_count, revenue_amount FROM posts WHERE id = ?`), postID,
	).Scan(&st.UnlockCount, &st.RevenueAmount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// CreatorStats returns a snapshot of a creator's aggregates
func (s *Storage) CreatorStats(ctx context.Context, creatorID string) (*CreatorStats, error) {
	st := CreatorStats{CreatorID: creatorID}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT total_unlocks, total_revenue FROM creators WHERE id = ?`), creatorID,
	).Scan(&st.TotalUnlocks, &st.TotalRevenue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
