// Package unlock turns a claimed payment or a trusted grant into an
// exactly-once settlement plus a fresh content access link.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/suspectuso/content-unlock/internal/access"
	"github.com/suspectuso/content-unlock/internal/metrics"
	"github.com/suspectuso/content-unlock/internal/payment"
	"github.com/suspectuso/content-unlock/internal/storage"
)

// State is a step of the unlock state machine
type State string

const (
	StateReceived       State = "RECEIVED"
	StateVerifying      State = "VERIFYING"
	StateVerified       State = "VERIFIED"
	StateRejected       State = "REJECTED"
	StateSettled        State = "SETTLED"
	StateAlreadySettled State = "ALREADY_SETTLED"
	StateAccessIssued   State = "ACCESS_ISSUED"
)

const grantRefPrefix = "grant:"

// Store is the persistence the orchestrator needs
type Store interface {
	GetPost(ctx context.Context, postID string) (*storage.Post, error)
	GetUnlock(ctx context.Context, unlockID string) (*storage.UnlockRecord, error)
	CreateOrGetUnlock(ctx context.Context, in storage.NewUnlock) (*storage.UnlockRecord, bool, error)
}

type Verifier interface {
	Verify(ctx context.Context, exp payment.Expectation) (payment.Result, error)
}

type AccessIssuer interface {
	Issue(ctx context.Context, contentRef string, ttl time.Duration) (access.Grant, error)
}

// PaymentRequest claims that TxRef paid for PostID
type PaymentRequest struct {
	PostID string
	TxRef  string
}

// GrantRequest unlocks a post without payment for a trusted caller
type GrantRequest struct {
	PostID   string
	CallerID string
	Reason   string
	Kind     storage.Kind
}

// Outcome is the result of a completed unlock
type Outcome struct {
	Record         *storage.UnlockRecord
	State          State
	AlreadySettled bool
	Access         access.Grant
}

type Orchestrator struct {
	store    Store
	verifier Verifier
	issuer   AccessIssuer
	ttl      time.Duration
	log      *slog.Logger
}

func New(store Store, verifier Verifier, issuer AccessIssuer, ttl time.Duration, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		verifier: verifier,
		issuer:   issuer,
		ttl:      ttl,
		log:      log,
	}
}

// Unlock verifies a payment on the ledger, settles it once and issues access.
// Resubmitting the same request is safe at every stage.
func (o *Orchestrator) Unlock(ctx context.Context, req PaymentRequest) (*Outcome, error) {
	postID := strings.TrimSpace(req.PostID)
	txRef := strings.TrimSpace(req.TxRef)
	log := o.log.With("post_id", postID, "tx_ref", txRef, "kind", storage.KindPayment)
	o.transition(log, StateReceived)

	if postID == "" || txRef == "" {
		return nil, o.fail(storage.KindPayment, newError(KindInvalidRequest, "postId and transactionReference are required", nil))
	}
	if strings.HasPrefix(txRef, grantRefPrefix) {
		return nil, o.fail(storage.KindPayment, newError(KindInvalidRequest, "invalid transaction reference", nil))
	}

	post, err := o.loadUnlockable(ctx, postID)
	if err != nil {
		return nil, o.fail(storage.KindPayment, err)
	}
	if post.Price <= 0 {
		return nil, o.fail(storage.KindPayment, newError(KindInvalidState, "post price not set", nil))
	}

	o.transition(log, StateVerifying)
	res, err := o.verifier.Verify(ctx, payment.Expectation{
		TxRef:     txRef,
		Recipient: post.RecipientWallet,
		Amount:    post.Price,
	})
	if err != nil {
		log.Warn("ledger unavailable", "error", err)
		return nil, o.fail(storage.KindPayment, newError(KindUpstreamUnavailable, "ledger unavailable", err))
	}
	if !res.Valid {
		o.transition(log, StateRejected, "reason", res.Reason)
		metrics.VerificationFailuresTotal.WithLabelValues(res.Reason).Inc()
		metrics.UnlocksTotal.WithLabelValues(string(storage.KindPayment), string(StateRejected)).Inc()
		return nil, newError(KindVerificationFailed, res.Reason, nil)
	}
	o.transition(log, StateVerified, "amount", res.Amount, "buyer", res.BuyerWallet)

	rec, created, err := o.store.CreateOrGetUnlock(ctx, storage.NewUnlock{
		PostID:        post.ID,
		TxRef:         txRef,
		BuyerWallet:   res.BuyerWallet,
		Amount:        res.Amount,
		PlatformFee:   res.PlatformFee,
		CreatorPayout: res.CreatorPayout,
		Kind:          storage.KindPayment,
	})
	if err != nil {
		return nil, o.fail(storage.KindPayment, fmt.Errorf("settle unlock: %w", err))
	}
	if !created && rec.PostID != post.ID {
		log.Warn("transaction reference reused", "settled_post_id", rec.PostID)
		metrics.VerificationFailuresTotal.WithLabelValues("reused").Inc()
		metrics.UnlocksTotal.WithLabelValues(string(storage.KindPayment), string(StateRejected)).Inc()
		return nil, newError(KindVerificationFailed, "transaction already used for another post", nil)
	}

	return o.finish(ctx, log, storage.KindPayment, post, rec, created)
}

// Grant records a non-payment unlock. A caller holds at most one grant per post.
func (o *Orchestrator) Grant(ctx context.Context, req GrantRequest) (*Outcome, error) {
	postID := strings.TrimSpace(req.PostID)
	callerID := strings.TrimSpace(req.CallerID)
	kind := req.Kind
	if kind == "" {
		kind = storage.KindPromotional
	}
	log := o.log.With("post_id", postID, "caller_id", callerID, "kind", kind)
	o.transition(log, StateReceived)

	if postID == "" || callerID == "" {
		return nil, o.fail(kind, newError(KindInvalidRequest, "postId and callerId are required", nil))
	}
	if kind != storage.KindAgent && kind != storage.KindPromotional {
		return nil, o.fail(kind, newError(KindInvalidRequest, "unsupported unlock kind", nil))
	}

	post, err := o.loadUnlockable(ctx, postID)
	if err != nil {
		return nil, o.fail(kind, err)
	}

	rec, created, err := o.store.CreateOrGetUnlock(ctx, storage.NewUnlock{
		PostID: post.ID,
		TxRef:  GrantRef(kind, post.ID, callerID),
		Kind:   kind,
		Reason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		return nil, o.fail(kind, fmt.Errorf("settle grant: %w", err))
	}

	return o.finish(ctx, log, kind, post, rec, created)
}

// Reissue returns a fresh access link for an existing unlock without touching the ledger.
// Payment unlocks are reissued to anyone holding the unlock id; grants only to the
// caller they were issued to.
func (o *Orchestrator) Reissue(ctx context.Context, unlockID, callerID string) (*Outcome, error) {
	unlockID = strings.TrimSpace(unlockID)
	if unlockID == "" {
		return nil, newError(KindInvalidRequest, "unlockId is required", nil)
	}

	rec, err := o.store.GetUnlock(ctx, unlockID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindNotFound, "unlock not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load unlock: %w", err)
	}
	if rec.Kind != storage.KindPayment {
		callerID = strings.TrimSpace(callerID)
		if callerID == "" || GrantRef(rec.Kind, rec.PostID, callerID) != rec.TxRef {
			o.log.Warn("access reissue refused", "unlock_id", unlockID, "kind", rec.Kind, "caller_id", callerID)
			return nil, newError(KindForbidden, "unlock was granted to another caller", nil)
		}
	}

	post, err := o.store.GetPost(ctx, rec.PostID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindNotFound, "post not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load post: %w", err)
	}
	if !post.HasContent() {
		return nil, newError(KindInvalidState, "no content available", nil)
	}

	grant, err := o.issuer.Issue(ctx, *post.ContentRef, o.ttl)
	if err != nil {
		o.log.Warn("access reissue failed", "unlock_id", unlockID, "error", err)
		return nil, newError(KindUpstreamUnavailable, "access issuer unavailable", err)
	}

	o.log.Info("access reissued", "unlock_id", rec.ID, "post_id", rec.PostID, "kind", rec.Kind)
	return &Outcome{Record: rec, State: StateAccessIssued, AlreadySettled: true, Access: grant}, nil
}

// GrantRef is the idempotency key stored as the transaction reference of a grant
func GrantRef(kind storage.Kind, postID, callerID string) string {
	return grantRefPrefix + string(kind) + ":" + postID + ":" + callerID
}

func (o *Orchestrator) loadUnlockable(ctx context.Context, postID string) (*storage.Post, error) {
	post, err := o.store.GetPost(ctx, postID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindNotFound, "post not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load post: %w", err)
	}
	if post.Status != storage.PostPublished {
		return nil, newError(KindInvalidState, "post not published", nil)
	}
	if !post.HasContent() {
		return nil, newError(KindInvalidState, "no content available", nil)
	}
	return post, nil
}

// finish runs the settled half of the machine: report the settlement, then issue access
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, kind storage.Kind, post *storage.Post, rec *storage.UnlockRecord, created bool) (*Outcome, error) {
	state := StateSettled
	if !created {
		state = StateAlreadySettled
	}
	o.transition(log, state, "unlock_id", rec.ID)
	metrics.SettlementsTotal.WithLabelValues(string(kind), fmt.Sprint(created)).Inc()

	grant, err := o.issuer.Issue(ctx, *post.ContentRef, o.ttl)
	if err != nil {
		log.Warn("access issue failed after settlement", "unlock_id", rec.ID, "error", err)
		return nil, o.fail(kind, newError(KindUpstreamUnavailable, "access issuer unavailable", err))
	}
	o.transition(log, StateAccessIssued, "unlock_id", rec.ID, "expires_at", grant.ExpiresAt)
	metrics.UnlocksTotal.WithLabelValues(string(kind), string(StateAccessIssued)).Inc()

	return &Outcome{
		Record:         rec,
		State:          StateAccessIssued,
		AlreadySettled: !created,
		Access:         grant,
	}, nil
}

func (o *Orchestrator) transition(log *slog.Logger, state State, args ...any) {
	log.Info("unlock "+strings.ToLower(string(state)), args...)
}

func (o *Orchestrator) fail(kind storage.Kind, err error) error {
	label := "internal"
	if ue, ok := AsError(err); ok {
		label = ue.Kind.String()
	}
	metrics.UnlocksTotal.WithLabelValues(string(kind), label).Inc()
	return err
}
