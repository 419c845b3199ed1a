package indexer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is one committed escrow event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	OrderID    uint64    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// Attrs decodes the stored attribute map.
func (r EventRecord) Attrs() map[string]string {
	out := map[string]string{}
	if r.Attributes == "" {
		return out
	}
	_ = json.Unmarshal([]byte(r.Attributes), &out)
	return out
}

// IdempotencyRecord remembers the response of a keyed mutating request.
type IdempotencyRecord struct {
	Key         string `gorm:"primaryKey;size:128"`
	Caller      string `gorm:"size:42;index"`
	Method      string `gorm:"size:64"`
	Fingerprint string `gorm:"size:64"`
	Response    string `gorm:"type:text"`
	CreatedAt   time.Time
}

// AutoMigrate creates or updates the indexer tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{}, &IdempotencyRecord{})
}
