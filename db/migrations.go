package db

import "gorm.io/gorm"

// Schema DDL. The uuid-keyed tables must agree with the gorm model tags:
// ids are UUID with a gen_random_uuid() default, while mint_requests keeps
// its natural idempotency-key primary key.
const (
	createCollectionsTable = `
		CREATE TABLE IF NOT EXISTS collections (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			creator VARCHAR(64) NOT NULL,
			price BIGINT NOT NULL,
			platform_fee_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_supply BIGINT NOT NULL,
			minted_count BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`

	createMintPhasesTable = `
		CREATE TABLE IF NOT EXISTS mint_phases (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			collection_id UUID NOT NULL REFERENCES collections(id),
			price BIGINT NOT NULL,
			starts_at TIMESTAMP NOT NULL,
			ends_at TIMESTAMP NOT NULL,
			phase_type VARCHAR(16) NOT NULL DEFAULT 'open',
			per_wallet_limit INT NOT NULL DEFAULT 0,
			allowlist JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_mint_phases_collection
			ON mint_phases(collection_id, starts_at)`

	createItemsTable = `
		CREATE TABLE IF NOT EXISTS items (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			collection_id UUID NOT NULL REFERENCES collections(id),
			item_index BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'unminted',
			owner VARCHAR(64) NOT NULL DEFAULT '',
			mint_signature VARCHAR(128) NOT NULL DEFAULT '',
			reserved_by VARCHAR(64) NOT NULL DEFAULT '',
			reserved_key VARCHAR(128) NOT NULL DEFAULT '',
			reserved_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_collection_item_index
			ON items(collection_id, item_index);
		CREATE INDEX IF NOT EXISTS idx_items_status
			ON items(collection_id, status);
		CREATE INDEX IF NOT EXISTS idx_items_reserved_key
			ON items(reserved_key)`

	createMintRequestsTable = `
		CREATE TABLE IF NOT EXISTS mint_requests (
			idempotency_key VARCHAR(128) PRIMARY KEY,
			request_hash VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			request_body JSONB,
			response_body JSONB,
			locked_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_mint_requests_status
			ON mint_requests(status, updated_at)`

	createMintTransactionsTable = `
		CREATE TABLE IF NOT EXISTS mint_transactions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			idempotency_key VARCHAR(128) NOT NULL,
			collection_id UUID NOT NULL,
			buyer VARCHAR(64) NOT NULL,
			payment_signature VARCHAR(128) NOT NULL,
			amount_paid BIGINT NOT NULL,
			platform_fee BIGINT NOT NULL DEFAULT 0,
			item_ids JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_mint_transactions_key
			ON mint_transactions(idempotency_key);
		CREATE INDEX IF NOT EXISTS idx_mint_transactions_buyer
			ON mint_transactions(buyer, created_at)`
)

// RegisterMigrations wires the full schema, in dependency order, into
// the migrator. Versions are date-prefixed so new migrations always
// sort after the ones already applied.
func RegisterMigrations(m *Migrator) {
	m.AddMigration("20250901_001", "create_collections",
		func(db *gorm.DB) error {
			return db.Exec(createCollectionsTable).Error
		},
		func(db *gorm.DB) error {
			return db.Exec(`DROP TABLE IF EXISTS collections`).Error
		},
	)

	m.AddMigration("20250901_002", "create_mint_phases",
		func(db *gorm.DB) error {
			return db.Exec(createMintPhasesTable).Error
		},
		func(db *gorm.DB) error {
			return db.Exec(`DROP TABLE IF EXISTS mint_phases`).Error
		},
	)

	m.AddMigration("20250901_003", "create_items",
		func(db *gorm.DB) error {
			return db.Exec(createItemsTable).Error
		},
		func(db *gorm.DB) error {
			return db.Exec(`DROP TABLE IF EXISTS items`).Error
		},
	)

	m.AddMigration("20250901_004", "create_mint_requests",
		func(db *gorm.DB) error {
			return db.Exec(createMintRequestsTable).Error
		},
		func(db *gorm.DB) error {
			return db.Exec(`DROP TABLE IF EXISTS mint_requests`).Error
		},
	)

	m.AddMigration("20250901_005", "create_mint_transactions",
		func(db *gorm.DB) error {
			return db.Exec(createMintTransactionsTable).Error
		},
		func(db *gorm.DB) error {
			return db.Exec(`DROP TABLE IF EXISTS mint_transactions`).Error
		},
	)
}
