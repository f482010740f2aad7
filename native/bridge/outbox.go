package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var outboxBucket = []byte("bridge_outbox")

var errOutboxClosed = errors.New("bridge outbox: database not open")

// OutboxRecord is the durable trace of a dispatched bridge transfer. After a
// burn the journal is the only local evidence the transfer ever happened, so
// records are written synchronously and never deleted.
type OutboxRecord struct {
	MessageID         string    `json:"messageId"`
	DestinationDomain uint32    `json:"destinationDomain"`
	Token             string    `json:"token"`
	Recipient         string    `json:"recipient"`
	Amount            string    `json:"amount"`
	DispatchedAt      time.Time `json:"dispatchedAt"`
}

// Outbox journals bridge dispatches in a bbolt database keyed by message id.
type Outbox struct {
	db *bolt.DB
}

// OpenOutbox opens (creating if necessary) the journal at path.
func OpenOutbox(path string) (*Outbox, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bridge outbox: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(outboxBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bridge outbox: init bucket: %w", err)
	}
	return &Outbox{db: db}, nil
}

// Append writes the record under its message id.
func (o *Outbox) Append(record OutboxRecord) error {
	if o == nil || o.db == nil {
		return errOutboxClosed
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("bridge outbox: encode record: %w", err)
	}
	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Put([]byte(record.MessageID), raw)
	})
}

// Get returns the record stored for the message id, or false when absent.
func (o *Outbox) Get(messageID string) (OutboxRecord, bool, error) {
	if o == nil || o.db == nil {
		return OutboxRecord{}, false, errOutboxClosed
	}
	var record OutboxRecord
	var found bool
	err := o.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(outboxBucket).Get([]byte(messageID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return OutboxRecord{}, false, err
	}
	return record, found, nil
}

// List returns every journaled record in key order.
func (o *Outbox) List() ([]OutboxRecord, error) {
	if o == nil || o.db == nil {
		return nil, errOutboxClosed
	}
	var records []OutboxRecord
	err := o.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).ForEach(func(_, raw []byte) error {
			var record OutboxRecord
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases the underlying database.
func (o *Outbox) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}
