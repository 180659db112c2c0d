package domain

import "time"

// SendReceipt records a message send accepted through the local API under a
// caller-supplied Idempotency-Key, keyed by (user_id, room_id, key). A retried
// request with the same key replays the stored message instead of writing to
// the backend twice.
type SendReceipt struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_user_room_key,priority:1"`
	RoomID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_user_room_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_receipt_user_room_key,priority:3"`
	Body      string    `gorm:"type:TEXT NOT NULL"`
	SentAt    time.Time `gorm:"type:DATETIME NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (SendReceipt) TableName() string { return "send_receipts" }
