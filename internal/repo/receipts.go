// Package repo – Receipts
//
// This file implements the callback receipt ledger. A receipt is keyed by
// app_trans_id, so recording it doubles as the claim that lets exactly one
// delivery of a gateway callback settle its session. Receipts expire after a
// TTL and are purged in the background.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-auction-settlement/internal/domain"
)

// Receipts is the callback ledger. It implements the handlers' ReceiptStore.
type Receipts struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

// NewReceipts keeps receipts for ttl (default 7 days).
func NewReceipts(db *gorm.DB, ttl time.Duration) *Receipts {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Receipts{DB: db, TTL: ttl, Now: time.Now}
}

// Record stores a receipt for r.AppTransID. A receipt for the same
// transaction already on file yields ErrDuplicate.
func (s *Receipts) Record(ctx context.Context, r domain.CallbackReceipt) (*domain.CallbackReceipt, error) {
	now := s.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = now
	r.ExpiresAt = now.Add(s.TTL)

	if err := s.DB.WithContext(ctx).Create(&r).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &r, nil
}

// Get returns the receipt for appTransID or ErrNotFound.
func (s *Receipts) Get(ctx context.Context, appTransID string) (*domain.CallbackReceipt, error) {
	var r domain.CallbackReceipt
	err := s.DB.WithContext(ctx).Where("app_trans_id = ?", appTransID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &r, err
}

// ListBySession returns the receipts of a session, newest first.
func (s *Receipts) ListBySession(ctx context.Context, sessionID string) ([]domain.CallbackReceipt, error) {
	var out []domain.CallbackReceipt
	err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// Purge deletes receipts past their retention and returns how many went.
func (s *Receipts) Purge(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("expires_at <= ?", s.Now().UTC()).
		Delete(&domain.CallbackReceipt{})
	return res.RowsAffected, res.Error
}

// Release deletes the receipt for appTransID so a later callback can be
// applied again. Used when applying the callback failed after the claim.
func (s *Receipts) Release(ctx context.Context, appTransID string) error {
	return s.DB.WithContext(ctx).
		Where("app_trans_id = ?", appTransID).
		Delete(&domain.CallbackReceipt{}).Error
}

// Stats reports the receipt count and latest write for a session.
func (s *Receipts) Stats(ctx context.Context, sessionID string) (int64, *time.Time, error) {
	return ReceiptStats(ctx, s.DB, sessionID)
}
