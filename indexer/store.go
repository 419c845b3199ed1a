package indexer

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/core/types"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
)

// ErrIdempotencyConflict is returned when a key is replayed with a different
// request body or by a different caller.
var ErrIdempotencyConflict = errors.New("indexer: idempotency key reused with a different request")

// Open connects to the indexer database. Driver is sqlite or postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "", "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
}

// Store persists committed events and idempotency records.
type Store struct {
	db  *gorm.DB
	mu  sync.Mutex
	seq uint64
	now func() time.Time
}

// NewStore migrates the schema and resumes the event sequence.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last EventRecord
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", err)
	}
	return &Store{db: db, seq: last.Sequence, now: time.Now}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Append stores evt with the next sequence number.
func (s *Store) Append(evt *types.Event) (EventRecord, error) {
	if evt == nil {
		return EventRecord{}, fmt.Errorf("indexer: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return EventRecord{}, err
	}
	orderID, _ := escrow.OrderIDFromEvent(evt)

	s.mu.Lock()
	defer s.mu.Unlock()
	record := EventRecord{
		ID:         uuid.New(),
		Sequence:   s.seq + 1,
		Type:       evt.Type,
		OrderID:    orderID,
		Attributes: string(attrs),
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return EventRecord{}, fmt.Errorf("indexer: append event: %w", err)
	}
	s.seq = record.Sequence
	return record, nil
}

// EventFilter narrows an event query. Zero values match everything.
type EventFilter struct {
	OrderID uint64
	Type    string
	// After returns only events with a greater sequence.
	After uint64
	Limit int
}

// Events returns matching events in sequence order.
func (s *Store) Events(filter EventFilter) ([]EventRecord, error) {
	query := s.db.Model(&EventRecord{}).Where("sequence > ?", filter.After)
	if filter.OrderID != 0 {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var out []EventRecord
	if err := query.Order("sequence asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("indexer: query events: %w", err)
	}
	return out, nil
}

// Fingerprint hashes the caller and request body for idempotency checks.
func Fingerprint(caller string, body []byte) string {
	h := blake3.New(32, nil)
	_, _ = h.Write([]byte(caller))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// LookupIdempotency returns the stored response for key. A record with a
// different fingerprint yields ErrIdempotencyConflict.
func (s *Store) LookupIdempotency(key, fingerprint string) (*IdempotencyRecord, bool, error) {
	var record IdempotencyRecord
	err := s.db.Where("key = ?", key).Limit(1).Find(&record).Error
	if err != nil {
		return nil, false, fmt.Errorf("indexer: lookup idempotency: %w", err)
	}
	if record.Key == "" {
		return nil, false, nil
	}
	if record.Fingerprint != fingerprint {
		return nil, false, ErrIdempotencyConflict
	}
	return &record, true, nil
}

// SaveIdempotency stores the response for a keyed request.
func (s *Store) SaveIdempotency(record IdempotencyRecord) error {
	if record.Key == "" {
		return fmt.Errorf("indexer: idempotency key required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	if err := s.db.Create(&record).Error; err != nil {
		return fmt.Errorf("indexer: save idempotency: %w", err)
	}
	return nil
}

// PruneIdempotency deletes records older than cutoff and returns how many
// were removed.
func (s *Store) PruneIdempotency(cutoff time.Time) (int64, error) {
	res := s.db.Where("created_at < ?", cutoff).Delete(&IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
