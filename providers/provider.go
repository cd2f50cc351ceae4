package providers

import (
	"context"
)

// Split is one (recipient, amount) leg of the payment, e.g. the creator share
// and the platform share.
type Split struct {
	Recipient string
	Amount    int64
}

// PaymentNetwork is the contract with the payment collaborator. The engine
// never inspects network internals beyond what these calls answer.
type PaymentNetwork interface {
	// BuildTransaction returns a base64 unsigned payment instruction set
	// paying the splits from buyer, tagged with reference so the on-chain
	// record can be matched back to its mint request.
	BuildTransaction(ctx context.Context, buyer string, splits []Split, reference string) (string, error)

	// IsConfirmed reports whether signature corresponds to a confirmed,
	// non-errored transfer that pays every split recipient at least its
	// quoted amount.
	IsConfirmed(ctx context.Context, signature string, splits []Split) (bool, error)

	// FindByReference looks for a confirmed transfer tagged with reference.
	// Used by the reconciliation sweep to recover orphaned payments.
	FindByReference(ctx context.Context, reference string) (signature string, found bool, err error)

	IsAvailable(ctx context.Context) bool
}

// PriceOracle supplies the external-currency exchange rate used to convert
// the platform fee into native payment units.
type PriceOracle interface {
	// GetRate returns the current USD price of one native unit.
	GetRate(ctx context.Context) (float64, error)
}
