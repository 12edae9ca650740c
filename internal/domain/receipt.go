package domain

import "time"

// CallbackReceipt records a gateway callback that has already been applied,
// keyed by the gateway transaction id. A second callback for the same
// app_trans_id is acknowledged without touching the session again.
type CallbackReceipt struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	AppTransID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_app_trans_id"`
	SessionID  string    `gorm:"type:TEXT NOT NULL;index"`
	ZPTransID  string    `gorm:"type:TEXT"`
	Amount     int64     `gorm:"type:INTEGER NOT NULL"`
	Status     string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (CallbackReceipt) TableName() string { return "callback_receipts" }
