package models

import (
	"encoding/json"
	"time"
)

type MintRequestStatus string

const (
	MintRequestStatusPending   MintRequestStatus = "pending"
	MintRequestStatusVerifying MintRequestStatus = "verifying"
	MintRequestStatusSettled   MintRequestStatus = "settled"
	MintRequestStatusFailed    MintRequestStatus = "failed"
)

// Terminal reports whether the status can never change again. A settled
// request additionally freezes its response body, which is replayed verbatim
// on every later lookup by the same key.
func (s MintRequestStatus) Terminal() bool {
	return s == MintRequestStatusSettled || s == MintRequestStatusFailed
}

// MintRequest is one logical mint attempt, identified by its idempotency key.
// LockedAt marks an attempt currently held by an in-flight handler; a stale
// lock may be taken over by a retry under the same key.
type MintRequest struct {
	IdempotencyKey string            `json:"idempotency_key" gorm:"primaryKey"`
	Status         MintRequestStatus `json:"status" gorm:"not null;default:'pending';index"`
	RequestHash    string            `json:"request_hash" gorm:"not null"`
	RequestBody    JSON              `json:"request_body" gorm:"type:jsonb"`
	ResponseBody   JSON              `json:"response_body" gorm:"type:jsonb"`
	LockedAt       *time.Time        `json:"locked_at"`
	CreatedAt      time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"autoUpdateTime;index"`
}

// PaymentSplit is one quoted recipient leg of the payment. Confirmation
// checks each leg's balance delta individually; a transfer that moves the
// right total to the wrong recipients does not confirm.
type PaymentSplit struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

// ReservationSnapshot is the request_body payload of a pending MintRequest.
// It carries everything settlement needs without re-deriving state: the items
// claimed for this key and the payment terms quoted to the buyer.
type ReservationSnapshot struct {
	CollectionID  string         `json:"collection_id"`
	Buyer         string         `json:"buyer"`
	Quantity      int            `json:"quantity"`
	ItemIDs       []string       `json:"item_ids"`
	ItemIndexes   []int64        `json:"item_indexes"`
	ExpectedTotal int64          `json:"expected_total"`
	PerItemFee    int64          `json:"per_item_fee"`
	Splits        []PaymentSplit `json:"splits"`
}

func (s *ReservationSnapshot) Marshal() (JSON, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return JSON(b), nil
}

func SnapshotFromRequest(req *MintRequest) (*ReservationSnapshot, error) {
	var snap ReservationSnapshot
	if err := json.Unmarshal([]byte(req.RequestBody), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
