package domain

import "time"

// Transaction is a completed, paid order. Rows are inserted once and never
// updated or deleted.
//
// Fields:
//   - ID: ULID primary key; lexical order follows creation time.
//   - UserID: identity of the buyer (indexed).
//   - ChatID: conversation the final artifact was delivered to.
//   - ProductID: catalog product type.
//   - Amount: catalog price at write time, smallest currency unit.
//   - ProofRef: opaque reference to the submitted proof of payment.
//   - CreatedAt: UTC append time.
type Transaction struct {
	ID        string    `json:"id"         gorm:"type:char(26);primaryKey"`
	UserID    string    `json:"user"       gorm:"type:varchar(64);not null;index:idx_tx_user"`
	ChatID    string    `json:"chat_id"    gorm:"type:varchar(64);not null"`
	ProductID string    `json:"product"    gorm:"type:varchar(64);not null"`
	Amount    int64     `json:"amount"     gorm:"not null;check:amount > 0"`
	ProofRef  string    `json:"proof_ref"  gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;index"`
}

// TableName returns the database table name for Transaction.
func (Transaction) TableName() string { return "transactions" }

// EndpointSetting is the single persisted generation-backend address.
// The table holds at most one row, keyed by a fixed name.
type EndpointSetting struct {
	Name      string    `gorm:"type:varchar(32);primaryKey"`
	Address   string    `gorm:"type:text;not null"`
	UpdatedBy string    `gorm:"type:varchar(64);not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for EndpointSetting.
func (EndpointSetting) TableName() string { return "endpoint_settings" }

// ProcessedEvent records an inbound transport event that has already been
// accepted, so redelivered events are dropped until ExpiresAt.
type ProcessedEvent struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Key       string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_processed_event_key"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedEvent) TableName() string { return "processed_events" }
