package models

// API request/response payloads for the two-phase mint contract. Field names
// follow the wire contract consumed by the storefront client.

type ReserveRequest struct {
	CollectionID   string `json:"collectionId"`
	Buyer          string `json:"buyer"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type ReserveResponse struct {
	Success             bool     `json:"success"`
	IdempotencyKey      string   `json:"idempotencyKey"`
	UnsignedTransaction string   `json:"unsignedTransaction"`
	ExpectedTotal       int64    `json:"expectedTotal"`
	PerItemFee          int64    `json:"perItemFee"`
	ItemIDs             []string `json:"itemIds"`
	ItemIndexes         []int64  `json:"itemIndexes"`
}

type ConfirmRequest struct {
	IdempotencyKey   string   `json:"idempotencyKey"`
	PaymentSignature string   `json:"paymentSignature"`
	ReservedItemIDs  []string `json:"reservedItemIds"`
}

type MintedItem struct {
	ItemID        string `json:"itemId"`
	ItemIndex     int64  `json:"itemIndex"`
	Owner         string `json:"owner"`
	MintSignature string `json:"mintSignature"`
}

type ConfirmResponse struct {
	Success        bool         `json:"success"`
	Status         string       `json:"status"`
	IdempotencyKey string       `json:"idempotencyKey"`
	MintedItems    []MintedItem `json:"mintedItems,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// CollectionView is the read-side listing payload. It is served from the
// short-TTL cache and is never consulted by the reserve or settle paths.
type CollectionView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Creator     string     `json:"creator"`
	Price       int64      `json:"price"`
	TotalSupply int64      `json:"totalSupply"`
	MintedCount int64      `json:"mintedCount"`
	ActivePhase *MintPhase `json:"activePhase,omitempty"`
}
