package models

import (
	"time"
)

// Collection is a fixed-size inventory of numbered items.
//
// MintedCount is maintained inside the settlement transaction and always equals
// the number of items with status=minted. It never exceeds TotalSupply.
type Collection struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name           string    `json:"name" gorm:"not null"`
	Creator        string    `json:"creator" gorm:"not null"`
	Price          int64     `json:"price" gorm:"not null"`
	PlatformFeeUSD float64   `json:"platform_fee_usd" gorm:"not null;default:0"`
	TotalSupply    int64     `json:"total_supply" gorm:"not null"`
	MintedCount    int64     `json:"minted_count" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

type PhaseType string

const (
	PhaseTypeOpen      PhaseType = "open"
	PhaseTypeAllowlist PhaseType = "allowlist"
)

// MintPhase is a time-boxed eligibility and pricing window. Read-only input to
// fee computation and eligibility checks; the mint path never mutates it.
type MintPhase struct {
	ID             string    `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CollectionID   string    `json:"collection_id" gorm:"not null;index"`
	Price          int64     `json:"price" gorm:"not null"`
	StartsAt       time.Time `json:"starts_at" gorm:"not null"`
	EndsAt         time.Time `json:"ends_at" gorm:"not null"`
	PhaseType      PhaseType `json:"phase_type" gorm:"not null;default:'open'"`
	PerWalletLimit int       `json:"per_wallet_limit" gorm:"not null;default:0"`
	Allowlist      JSON      `json:"allowlist" gorm:"type:jsonb"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Active reports whether the phase window covers the given instant.
func (p *MintPhase) Active(at time.Time) bool {
	return !at.Before(p.StartsAt) && at.Before(p.EndsAt)
}
