package models

import (
	"time"
)

// MintTransaction is the settlement record. Exactly one row exists per settled
// MintRequest; it is inserted in the same transaction that flips the items to
// minted.
type MintTransaction struct {
	ID               string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CollectionID     string    `json:"collection_id" gorm:"not null;index"`
	Buyer            string    `json:"buyer" gorm:"not null;index"`
	IdempotencyKey   string    `json:"idempotency_key" gorm:"not null;uniqueIndex"`
	PaymentSignature string    `json:"payment_signature" gorm:"not null"`
	AmountPaid       int64     `json:"amount_paid" gorm:"not null"`
	PlatformFee      int64     `json:"platform_fee" gorm:"not null"`
	ItemIDs          JSON      `json:"item_ids" gorm:"type:jsonb"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
}
