package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const unlockColumns = `id, post_id, tx_ref, buyer_wallet, amount, platform_fee, creator_payout, kind, reason, created_at`

// CreateOrGetUnlock inserts an unlock record keyed by in.TxRef.
//
// When the unique index on tx_ref rejects the insert, the already stored
// record is returned with created=false and nothing else is touched. When the
// insert wins, the revenue counters and the creator's sale notification are
// written in the same transaction, so a settlement is either fully visible or
// not at all.
func (s *Storage) CreateOrGetUnlock(ctx context.Context, in NewUnlock) (*UnlockRecord, bool, error) {
	now := time.Now().Unix()
	rec := &UnlockRecord{
		ID:            uuid.NewString(),
		PostID:        in.PostID,
		TxRef:         in.TxRef,
		Amount:        in.Amount,
		PlatformFee:   in.PlatformFee,
		CreatorPayout: in.CreatorPayout,
		Kind:          in.Kind,
		CreatedAt:     time.Unix(now, 0),
	}
	if in.BuyerWallet != "" {
		buyer := in.BuyerWallet
		rec.BuyerWallet = &buyer
	}
	if in.Reason != "" {
		reason := in.Reason
		rec.Reason = &reason
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO unlocks (`+unlockColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tx_ref) DO NOTHING`),
		rec.ID, rec.PostID, rec.TxRef, nullString(in.BuyerWallet),
		rec.Amount, rec.PlatformFee, rec.CreatorPayout, string(rec.Kind), nullString(in.Reason), now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert unlock: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if inserted == 0 {
		tx.Rollback()
		existing, err := s.GetUnlockByTxRef(ctx, in.TxRef)
		if err != nil {
			return nil, false, fmt.Errorf("load settled unlock: %w", err)
		}
		return existing, false, nil
	}

	post, err := s.loadSettlementPost(ctx, tx, rec.PostID)
	if err != nil {
		return nil, false, err
	}
	if err := s.recordSettlement(ctx, tx, rec.PostID, post.creatorID, rec.CreatorPayout); err != nil {
		return nil, false, fmt.Errorf("record settlement: %w", err)
	}
	if rec.Kind == KindPayment && post.chatID.Valid {
		if err := s.enqueueNotification(ctx, tx, post, rec); err != nil {
			return nil, false, fmt.Errorf("enqueue notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit settlement: %w", err)
	}
	return rec, true, nil
}

// GetUnlock returns an unlock record by ID
func (s *Storage) GetUnlock(ctx context.Context, unlockID string) (*UnlockRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+unlockColumns+` FROM unlocks WHERE id = ?`), unlockID)
	return scanUnlock(row)
}

// GetUnlockByTxRef returns the unlock record settled for a transaction reference
func (s *Storage) GetUnlockByTxRef(ctx context.Context, txRef string) (*UnlockRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+unlockColumns+` FROM unlocks WHERE tx_ref = ?`), txRef)
	return scanUnlock(row)
}

// ListUnlocks returns all unlock records for a post, oldest first
func (s *Storage) ListUnlocks(ctx context.Context, postID string) ([]UnlockRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+unlockColumns+` FROM unlocks WHERE post_id = ? ORDER BY created_at, id`), postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []UnlockRecord
	for rows.Next() {
		rec, err := scanUnlock(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUnlock(row rowScanner) (*UnlockRecord, error) {
	var rec UnlockRecord
	var buyer, reason sql.NullString
	var kind string
	var createdAt int64

	err := row.Scan(&rec.ID, &rec.PostID, &rec.TxRef, &buyer, &rec.Amount, &rec.PlatformFee,
		&rec.CreatorPayout, &kind, &reason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.BuyerWallet = stringPtr(buyer)
	rec.Reason = stringPtr(reason)
	rec.Kind = Kind(kind)
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}
