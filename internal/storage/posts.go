package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// --- Creators ---

// CreateCreator adds a creator with zeroed aggregates
func (s *Storage) CreateCreator(ctx context.Context, name, walletAddress string, telegramChatID *int64) (*Creator, error) {
	now := time.Now().Unix()
	c := &Creator{
		ID:             uuid.NewString(),
		Name:           name,
		WalletAddress:  walletAddress,
		TelegramChatID: telegramChatID,
		CreatedAt:      time.Unix(now, 0),
	}

	var chatID sql.NullInt64
	if telegramChatID != nil {
		chatID = sql.NullInt64{Int64: *telegramChatID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO creators (id, name, wallet_address, telegram_chat_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		c.ID, c.Name, c.WalletAddress, chatID, now,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetCreator returns a creator by ID
func (s *Storage) GetCreator(ctx context.Context, creatorID string) (*Creator, error) {
	var c Creator
	var createdAt int64
	var chatID sql.NullInt64

	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, name, wallet_address, telegram_chat_id, total_unlocks, total_revenue, created_at
		 FROM creators WHERE id = ?`),
		creatorID,
	).Scan(&c.ID, &c.Name, &c.WalletAddress, &chatID, &c.TotalUnlocks, &c.TotalRevenue, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.CreatedAt = time.Unix(createdAt, 0)
	if chatID.Valid {
		c.TelegramChatID = &chatID.Int64
	}
	return &c, nil
}

// --- Posts ---

// CreatePost adds a draft post without content
func (s *Storage) CreatePost(ctx context.Context, creatorID, title string, price int64) (*Post, error) {
	if _, err := s.GetCreator(ctx, creatorID); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO posts (id, creator_id, title, status, price, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		id, creatorID, title, string(PostDraft), price, now,
	)
	if err != nil {
		return nil, err
	}

	return s.GetPost(ctx, id)
}

// GetPost returns a post with the recipient wallet inherited from its creator
func (s *Storage) GetPost(ctx context.Context, postID string) (*Post, error) {
	var p Post
	var status string
	var contentRef sql.NullString
	var createdAt int64

	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT p.id, p.creator_id, p.title, p.status, c.wallet_address, p.price,
		        p.content_ref, p.unlock_count, p.revenue_amount, p.created_at
		 FROM posts p JOIN creators c ON c.id = p.creator_id
		 WHERE p.id = ?`),
		postID,
	).Scan(&p.ID, &p.CreatorID, &p.Title, &status, &p.RecipientWallet, &p.Price,
		&contentRef, &p.UnlockCount, &p.RevenueAmount, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Status = PostStatus(status)
	p.ContentRef = stringPtr(contentRef)
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

// SetPostContent attaches the storage key produced by the generation pipeline
func (s *Storage) SetPostContent(ctx context.Context, postID, contentRef string) error {
	return s.updatePost(ctx, `UPDATE posts SET content_ref = ? WHERE id = ?`, contentRef, postID)
}

// PublishPost moves a post to published
func (s *Storage) PublishPost(ctx context.Context, postID string) error {
	return s.updatePost(ctx, `UPDATE posts SET status = ? WHERE id = ?`, string(PostPublished), postID)
}

// ArchivePost moves a post to archived
func (s *Storage) ArchivePost(ctx context.Context, postID string) error {
	return s.updatePost(ctx, `UPDATE posts SET status = ? WHERE id = ?`, string(PostArchived), postID)
}

func (s *Storage) updatePost(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
