package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-declare/internal/invoice"
)

const (
	invoiceBucketName = "invoice"
	profileBucketName = "user_profiles"
)

// DB defines the interface for database operations
type DB interface {
	// InsertInvoice stores a new record. An existing ID is ErrObjectExists.
	InsertInvoice(rec *invoice.Record) error

	GetInvoice(id string) (*invoice.Record, error)

	ListInvoices() ([]*invoice.Record, error)

	UpdateInvoiceStatus(id string, status invoice.Status) error

	DeleteInvoice(id string) error

	GetProfile(id string) (*Profile, error)

	SaveProfile(profile *Profile) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens the database at path and creates its tables
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{invoiceBucketName, profileBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) InsertInvoice(rec *invoice.Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		if bucket.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("invoice %s: %w", rec.ID, ErrObjectExists)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		return bucket.Put([]byte(rec.ID), data)
	})
}

func (b *BoltDB) GetInvoice(id string) (*invoice.Record, error) {
	var rec *invoice.Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(invoiceBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *BoltDB) ListInvoices() ([]*invoice.Record, error) {
	records := make([]*invoice.Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoiceBucketName)).ForEach(func(k, v []byte) error {
			var rec invoice.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateInvoiceStatus rewrites only the status column.
func (b *BoltDB) UpdateInvoiceStatus(id string, status invoice.Status) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
		}
		var rec invoice.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshaling invoice: %w", err)
		}
		rec.Status = status
		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		return bucket.Put([]byte(id), updated)
	})
}

func (b *BoltDB) DeleteInvoice(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(invoiceBucketName)).Delete([]byte(id))
	})
}

func (b *BoltDB) GetProfile(id string) (*Profile, error) {
	var profile *Profile
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(profileBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("profile %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &profile)
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (b *BoltDB) SaveProfile(profile *Profile) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("marshaling profile: %w", err)
		}
		return tx.Bucket([]byte(profileBucketName)).Put([]byte(profile.ID), data)
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
