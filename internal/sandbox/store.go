package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "transactions"

var ErrNotFound = errors.New("transaction not found")

// Transaction is what the sandbox remembers about a reference. HTTPStatus is the status the first
// submission was answered with; replays always answer 200 with the settled state.
type Transaction struct {
	TransactionID      string            `json:"transactionID"`
	ReferenceID        string            `json:"referenceID"`
	Type               string            `json:"type"`
	SourceAccount      string            `json:"sourceAccount"`
	DestinationAccount string            `json:"destinationAccount"`
	Amount             string            `json:"amount"`
	CorrespondenceID   string            `json:"correspondenceID,omitempty"`
	Recurring          bool              `json:"recurring,omitempty"`
	Options            map[string]string `json:"options,omitempty"`
	Status             string            `json:"status"`
	Network            string            `json:"network,omitempty"`
	NetworkRC          string            `json:"networkRC,omitempty"`
	ErrorCode          string            `json:"errorCode,omitempty"`
	Message            string            `json:"message,omitempty"`
	HTTPStatus         int               `json:"httpStatus"`
	CreatedAt          time.Time         `json:"createdAt"`
}

// Store keeps sandbox transactions in a bolt file keyed by reference id.
type Store struct {
	db *bolt.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(referenceID string) (*Transaction, error) {
	var t Transaction

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(referenceID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create stores t unless its reference is already known, in which case the stored transaction is
// returned and created is false.
func (s *Store) Create(t *Transaction) (*Transaction, bool, error) {
	var result Transaction
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		if existing := b.Get([]byte(t.ReferenceID)); existing != nil {
			return json.Unmarshal(existing, &result)
		}

		t.CreatedAt = time.Now().UTC()
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}

		result = *t
		created = true
		return b.Put([]byte(t.ReferenceID), data)
	})
	if err != nil {
		return nil, false, err
	}
	return &result, created, nil
}

// SetStatus moves a stored transaction to a new status, for settling pending sandbox charges.
func (s *Store) SetStatus(referenceID, status string) (*Transaction, error) {
	var t Transaction

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(referenceID))
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if t.Status == status {
			return nil
		}

		t.Status = status
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return b.Put([]byte(referenceID), data)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) List() ([]Transaction, error) {
	items := []Transaction{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(_, v []byte) error {
			var t Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			items = append(items, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
