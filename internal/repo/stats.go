package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-auction-settlement/internal/domain"
)

// ReceiptStats returns how many receipts a session has and when the latest
// was written. With no receipts the time is nil. Used for ETags.
func ReceiptStats(ctx context.Context, db *gorm.DB, sessionID string) (count int64, latest *time.Time, err error) {
	q := func() *gorm.DB {
		return db.WithContext(ctx).Model(&domain.CallbackReceipt{}).Where("session_id = ?", sessionID)
	}

	if err = q().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// MAX() comes back as TEXT in SQLite, so order and take one row instead.
	var row struct {
		CreatedAt time.Time
	}
	if err = q().Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
