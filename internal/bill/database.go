package bill

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

const (
	billBucketName      = "bills"
	aggregateBucketName = "aggregates"
	contactBucketName   = "contacts"
)

// DB defines the interface for database operations.
type DB interface {
	// SaveBill upserts a bill record by ID
	SaveBill(record *Record) error

	// GetBill retrieves a bill by ID
	GetBill(id string) (*Record, error)

	// DeleteBill removes a bill from the database
	DeleteBill(id string) error

	// ListBills returns an owner's bills with BillDate in [from, to],
	// newest bill date first
	ListBills(ownerID string, from, to time.Time) ([]*Record, error)

	// BillsForDate returns an owner's bills for one calendar day in
	// capture order
	BillsForDate(ownerID string, date time.Time) ([]*Record, error)

	// BillsForContact returns an owner's bills received from one
	// contact, newest first
	BillsForContact(ownerID, contactID string) ([]*Record, error)

	// RecomputeAggregate re-sums the live canonical totals for an
	// (owner, day) key and upserts the aggregate row, atomically with
	// respect to concurrent writes
	RecomputeAggregate(ownerID string, date time.Time) (*DailyAggregate, error)

	// GetAggregate retrieves the aggregate row for an (owner, day) key
	GetAggregate(ownerID string, date time.Time) (*DailyAggregate, error)

	// ListAggregates returns an owner's aggregates with SheetDate in
	// [from, to], newest first
	ListAggregates(ownerID string, from, to time.Time) ([]*DailyAggregate, error)

	// SaveContact upserts a contact by ID
	SaveContact(contact *Contact) error

	// GetContact retrieves a contact by ID
	GetContact(id string) (*Contact, error)

	// ContactByPhone finds an owner's contact by phone number
	ContactByPhone(ownerID, phoneNumber string) (*Contact, error)

	// ListContacts returns all contacts for an owner, newest first
	ListContacts(ownerID string) ([]*Contact, error)

	// DeleteContact removes a contact from the database
	DeleteContact(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{billBucketName, aggregateBucketName, contactBucketName} {
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

// aggregateKey is the storage key for an (owner, day) pair.
func aggregateKey(ownerID string, date time.Time) []byte {
	return []byte(ownerID + "/" + DateKey(date))
}

// SaveBill upserts a bill record by ID.
func (b *BoltDB) SaveBill(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(billBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling bill: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// GetBill retrieves a bill by ID.
func (b *BoltDB) GetBill(id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(billBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("bill %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// DeleteBill removes a bill from the database.
func (b *BoltDB) DeleteBill(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(billBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("bill %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// ListBills returns an owner's bills with BillDate in [from, to].
func (b *BoltDB) ListBills(ownerID string, from, to time.Time) ([]*Record, error) {
	from, to = DayOf(from), DayOf(to)
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(billBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling bill: %w", err)
			}
			if record.OwnerID != ownerID {
				return nil
			}
			day := DayOf(record.BillDate)
			if day.Before(from) || day.After(to) {
				return nil
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].BillDate.Equal(records[j].BillDate) {
			return records[i].BillDate.After(records[j].BillDate)
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// BillsForDate returns an owner's bills for one calendar day in capture
// order, the order the export renders rows in.
func (b *BoltDB) BillsForDate(ownerID string, date time.Time) ([]*Record, error) {
	records, err := b.ListBills(ownerID, date, date)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// BillsForContact returns an owner's bills received from one contact.
func (b *BoltDB) BillsForContact(ownerID, contactID string) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(billBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling bill: %w", err)
			}
			if record.OwnerID == ownerID && record.ContactID == contactID {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// RecomputeAggregate re-sums live canonical totals for an (owner, day) key
// and upserts the aggregate row. The sum and the write happen inside one
// bbolt update transaction, so the read-sum-write sequence cannot interleave
// with another writer. A full re-sum, not an incremental delta: it trades
// some I/O for freedom from drift.
func (b *BoltDB) RecomputeAggregate(ownerID string, date time.Time) (*DailyAggregate, error) {
	day := DayOf(date)
	var agg *DailyAggregate
	err := b.db.Update(func(tx *bbolt.Tx) error {
		total := decimal.Zero
		bills := tx.Bucket([]byte(billBucketName))
		err := bills.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling bill: %w", err)
			}
			if record.OwnerID == ownerID && DayOf(record.BillDate).Equal(day) {
				total = total.Add(record.CanonicalTotal)
			}
			return nil
		})
		if err != nil {
			return err
		}

		agg = &DailyAggregate{
			OwnerID:    ownerID,
			SheetDate:  day,
			GrossTotal: total,
			UpdatedAt:  time.Now().UTC(),
		}
		data, err := json.Marshal(agg)
		if err != nil {
			return fmt.Errorf("marshaling aggregate: %w", err)
		}
		return tx.Bucket([]byte(aggregateBucketName)).Put(aggregateKey(ownerID, day), data)
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// GetAggregate retrieves the aggregate row for an (owner, day) key.
func (b *BoltDB) GetAggregate(ownerID string, date time.Time) (*DailyAggregate, error) {
	var agg *DailyAggregate
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(aggregateBucketName)).Get(aggregateKey(ownerID, date))
		if data == nil {
			return fmt.Errorf("aggregate %s/%s: %w", ownerID, DateKey(date), ErrNotFound)
		}
		return json.Unmarshal(data, &agg)
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// ListAggregates returns an owner's aggregates with SheetDate in [from, to].
func (b *BoltDB) ListAggregates(ownerID string, from, to time.Time) ([]*DailyAggregate, error) {
	from, to = DayOf(from), DayOf(to)
	prefix := []byte(ownerID + "/")
	aggs := make([]*DailyAggregate, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(aggregateBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			if !strings.HasPrefix(string(k), string(prefix)) {
				return nil
			}
			var agg DailyAggregate
			if err := json.Unmarshal(v, &agg); err != nil {
				return fmt.Errorf("unmarshaling aggregate: %w", err)
			}
			day := DayOf(agg.SheetDate)
			if day.Before(from) || day.After(to) {
				return nil
			}
			aggs = append(aggs, &agg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(aggs, func(i, j int) bool {
		return aggs[i].SheetDate.After(aggs[j].SheetDate)
	})
	return aggs, nil
}

// SaveContact upserts a contact by ID.
func (b *BoltDB) SaveContact(contact *Contact) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(contactBucketName))
		data, err := json.Marshal(contact)
		if err != nil {
			return fmt.Errorf("marshaling contact: %w", err)
		}
		return bucket.Put([]byte(contact.ID), data)
	})
}

// GetContact retrieves a contact by ID.
func (b *BoltDB) GetContact(id string) (*Contact, error) {
	var contact *Contact
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(contactBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("contact %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &contact)
	})
	if err != nil {
		return nil, err
	}
	return contact, nil
}

// ContactByPhone finds an owner's contact by phone number.
func (b *BoltDB) ContactByPhone(ownerID, phoneNumber string) (*Contact, error) {
	var found *Contact
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(contactBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			if found != nil {
				return nil
			}
			var contact Contact
			if err := json.Unmarshal(v, &contact); err != nil {
				return fmt.Errorf("unmarshaling contact: %w", err)
			}
			if contact.OwnerID == ownerID && contact.PhoneNumber == phoneNumber {
				found = &contact
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("contact %s: %w", phoneNumber, ErrNotFound)
	}
	return found, nil
}

// ListContacts returns all contacts for an owner.
func (b *BoltDB) ListContacts(ownerID string) ([]*Contact, error) {
	contacts := make([]*Contact, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(contactBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var contact Contact
			if err := json.Unmarshal(v, &contact); err != nil {
				return fmt.Errorf("unmarshaling contact: %w", err)
			}
			if contact.OwnerID == ownerID {
				contacts = append(contacts, &contact)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].CreatedAt.After(contacts[j].CreatedAt)
	})
	return contacts, nil
}

// DeleteContact removes a contact from the database.
func (b *BoltDB) DeleteContact(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(contactBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("contact %s: %w", id, ErrNotFound)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection.
func (b *BoltDB) Close() error {
	return b.db.Close()
}
