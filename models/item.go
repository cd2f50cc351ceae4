package models

import (
	"time"
)

type ItemStatus string

const (
	ItemStatusUnminted ItemStatus = "unminted"
	ItemStatusReserved ItemStatus = "reserved"
	ItemStatusMinted   ItemStatus = "minted"
)

// Item is a uniquely numbered collectible. ItemIndex is unique per collection
// and defines allocation order: reservations always claim the lowest unminted
// indexes first.
//
// Legal transitions: unminted -> reserved -> minted, or reserved -> unminted
// when a reservation expires or its payment fails. Minted is final.
type Item struct {
	ID            string     `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CollectionID  string     `json:"collection_id" gorm:"not null;index;uniqueIndex:idx_collection_item_index"`
	ItemIndex     int64      `json:"item_index" gorm:"not null;uniqueIndex:idx_collection_item_index"`
	Status        ItemStatus `json:"status" gorm:"not null;default:'unminted';index"`
	Owner         string     `json:"owner"`
	MintSignature string     `json:"mint_signature"`
	ReservedBy    string     `json:"reserved_by"`
	ReservedKey   string     `json:"reserved_key" gorm:"index"`
	ReservedAt    *time.Time `json:"reserved_at"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
