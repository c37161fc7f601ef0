package storage

import "time"

// PostStatus is the publication state of a post
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostPublished PostStatus = "published"
	PostArchived  PostStatus = "archived"
)

// Kind says how an unlock was obtained
type Kind string

const (
	KindPayment     Kind = "payment"
	KindAgent       Kind = "agent"
	KindPromotional Kind = "promotional"
)

// Creator owns posts and receives payouts
type Creator struct {
	ID             string
	Name           string
	WalletAddress  string
	TelegramChatID *int64
	TotalUnlocks   int64
	TotalRevenue   int64
	CreatedAt      time.Time
}

// Post is a unit of sellable content
type Post struct {
	ID              string
	CreatorID       string
	Title           string
	Status          PostStatus
	RecipientWallet string // creator's wallet
	Price           int64  // smallest asset unit
	ContentRef      *string
	UnlockCount     int64
	RevenueAmount   int64
	CreatedAt       time.Time
}

// HasContent reports whether generated content is attached
func (p *Post) HasContent() bool {
	return p.ContentRef != nil && *p.ContentRef != ""
}

// UnlockRecord is written once per distinct transaction reference and never changed
type UnlockRecord struct {
	ID            string
	PostID        string
	TxRef         string
	BuyerWallet   *string
	Amount        int64
	PlatformFee   int64
	CreatorPayout int64
	Kind          Kind
	Reason        *string
	CreatedAt     time.Time
}

// NewUnlock is the input to CreateOrGetUnlock
type NewUnlock struct {
	PostID        string
	TxRef         string
	BuyerWallet   string
	Amount        int64
	PlatformFee   int64
	CreatorPayout int64
	Kind          Kind
	Reason        string
}

// PostStats is a snapshot of a post's revenue counters
type PostStats struct {
	PostID        string
	UnlockCount   int64
	RevenueAmount int64
}

// CreatorStats is a snapshot of a creator's aggregates
type CreatorStats struct {
	CreatorID    string
	TotalUnlocks int64
	TotalRevenue int64
}

// Notification is a pending creator sale message
type Notification struct {
	ID          string
	ChatID      int64
	UnlockID    string
	PostID      string
	PostTitle   string
	Payout      int64
	BuyerWallet string
	Attempts    int
	CreatedAt   time.Time
}
