package basket

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	wholesalerBucketName = "wholesalers"
	panShopBucketName    = "panshops"
	entryBucketName      = "basket_entries"
	paymentBucketName    = "payments"
)

// DB defines the interface for database operations
type DB interface {
	// SaveWholesaler saves a wholesaler to the database
	SaveWholesaler(w *Wholesaler) error

	// ListWholesalers returns all wholesalers
	ListWholesalers() ([]*Wholesaler, error)

	// FindWholesalerByMark returns the wholesaler carrying the given
	// mark, or nil when no wholesaler has it
	FindWholesalerByMark(mark string) (*Wholesaler, error)

	// SavePanShop saves a pan shop to the database
	SavePanShop(p *PanShop) error

	// ListPanShops returns all pan shops
	ListPanShops() ([]*PanShop, error)

	// GetPanShop retrieves a pan shop by ID
	GetPanShop(id string) (*PanShop, error)

	// SaveEntry saves a basket entry to the database
	SaveEntry(e *BasketEntry) error

	// GetEntry retrieves a basket entry by ID
	GetEntry(id string) (*BasketEntry, error)

	// DeleteEntry removes a basket entry by ID
	DeleteEntry(id string) error

	// ListEntries returns all basket entries
	ListEntries() ([]*BasketEntry, error)

	// SavePayment saves a payment to the database
	SavePayment(p *Payment) error

	// ListPayments returns all payments
	ListPayments() ([]*Payment, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{wholesalerBucketName, panShopBucketName, entryBucketName, paymentBucketName} {
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

// SaveWholesaler saves a wholesaler to the database
func (b *BoltDB) SaveWholesaler(w *Wholesaler) error {
	return b.put(wholesalerBucketName, w.ID, w)
}

// ListWholesalers returns all wholesalers
func (b *BoltDB) ListWholesalers() ([]*Wholesaler, error) {
	wholesalers := make([]*Wholesaler, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(wholesalerBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var w Wholesaler
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("unmarshaling wholesaler: %w", err)
			}
			wholesalers = append(wholesalers, &w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return wholesalers, nil
}

// FindWholesalerByMark scans for a wholesaler by mark. Marks are short
// and few per ledger, so a bucket scan is fine here.
func (b *BoltDB) FindWholesalerByMark(mark string) (*Wholesaler, error) {
	var found *Wholesaler
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(wholesalerBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var w Wholesaler
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("unmarshaling wholesaler: %w", err)
			}
			if w.Mark == mark {
				found = &w
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// SavePanShop saves a pan shop to the database
func (b *BoltDB) SavePanShop(p *PanShop) error {
	return b.put(panShopBucketName, p.ID, p)
}

// ListPanShops returns all pan shops
func (b *BoltDB) ListPanShops() ([]*PanShop, error) {
	shops := make([]*PanShop, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(panShopBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var p PanShop
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshaling pan shop: %w", err)
			}
			shops = append(shops, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return shops, nil
}

// GetPanShop retrieves a pan shop by ID
func (b *BoltDB) GetPanShop(id string) (*PanShop, error) {
	var shop *PanShop
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(panShopBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("pan shop not found: %s", id)
		}
		return json.Unmarshal(data, &shop)
	})
	if err != nil {
		return nil, err
	}
	return shop, nil
}

// SaveEntry saves a basket entry to the database
func (b *BoltDB) SaveEntry(e *BasketEntry) error {
	return b.put(entryBucketName, e.ID, e)
}

// GetEntry retrieves a basket entry by ID
func (b *BoltDB) GetEntry(id string) (*BasketEntry, error) {
	var entry *BasketEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("basket entry not found: %s", id)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// DeleteEntry removes a basket entry by ID
func (b *BoltDB) DeleteEntry(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("basket entry not found: %s", id)
		}
		return bucket.Delete([]byte(id))
	})
}

// ListEntries returns all basket entries
func (b *BoltDB) ListEntries() ([]*BasketEntry, error) {
	entries := make([]*BasketEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entryBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var e BasketEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling basket entry: %w", err)
			}
			entries = append(entries, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SavePayment saves a payment to the database
func (b *BoltDB) SavePayment(p *Payment) error {
	return b.put(paymentBucketName, p.ID, p)
}

// ListPayments returns all payments
func (b *BoltDB) ListPayments() ([]*Payment, error) {
	payments := make([]*Payment, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(paymentBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var p Payment
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("unmarshaling payment: %w", err)
			}
			payments = append(payments, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) put(bucketName, id string, v interface{}) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s record: %w", bucketName, err)
		}
		return bucket.Put([]byte(id), data)
	})
}
