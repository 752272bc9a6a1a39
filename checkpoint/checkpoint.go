// Package checkpoint persists the progress of queries so
// that a query can resume after the process restarts.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jrife/crossquery/routing"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	bucketCheckpoints = []byte("checkpoints")
	// ErrNotFound is returned when a checkpoint doesn't exist
	ErrNotFound = errors.New("checkpoint not found")
	// ErrNoQueryID is returned when saving a checkpoint
	// without a query ID
	ErrNoQueryID = errors.New("checkpoint has no query id")
)

// NewQueryID generates a query ID
func NewQueryID() string {
	return uuid.NewString()
}

// Checkpoint is the progress of a query as of
// the last page it returned
type Checkpoint struct {
	QueryID      string `json:"queryId"`
	CollectionID string `json:"collectionId"`
	Query        string `json:"query"`
	// Continuation is the continuation token of
	// the last page
	Continuation string                      `json:"continuation"`
	Top          *int                        `json:"top,omitempty"`
	Pages        int                         `json:"pages"`
	Documents    int                         `json:"documents"`
	Done         bool                        `json:"done"`
	Topology     []routing.PartitionKeyRange `json:"topology,omitempty"`
	UpdatedAt    time.Time                   `json:"updatedAt"`
}

// Config configures a Store
type Config struct {
	Path    string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Store is a bbolt backed checkpoint store
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens the store at config.Path,
// creating it if it doesn't exist
func Open(config Config) (*Store, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	if config.Timeout == 0 {
		config.Timeout = time.Second
	}

	db, err := bolt.Open(config.Path, 0666, &bolt.Options{Timeout: config.Timeout})

	if err != nil {
		return nil, fmt.Errorf("could not open checkpoint store at %s: %w", config.Path, err)
	}

	if err := db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists(bucketCheckpoints)

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not ensure checkpoints bucket exists: %w", err)
	}

	return &Store{db: db, logger: config.Logger}, nil
}

// Close closes the store
func (store *Store) Close() error {
	return store.db.Close()
}

// Save creates or replaces the checkpoint of a query.
// UpdatedAt is set to the current time if it is zero.
func (store *Store) Save(checkpoint Checkpoint) error {
	if checkpoint.QueryID == "" {
		return ErrNoQueryID
	}

	if checkpoint.UpdatedAt.IsZero() {
		checkpoint.UpdatedAt = time.Now().UTC()
	}

	encoded, err := json.Marshal(checkpoint)

	if err != nil {
		return fmt.Errorf("could not marshal checkpoint: %w", err)
	}

	if err := store.db.Update(func(txn *bolt.Tx) error {
		return txn.Bucket(bucketCheckpoints).Put([]byte(checkpoint.QueryID), encoded)
	}); err != nil {
		return fmt.Errorf("could not save checkpoint %s: %w", checkpoint.QueryID, err)
	}

	store.logger.Debug("saved checkpoint", zap.String("query", checkpoint.QueryID), zap.Int("pages", checkpoint.Pages), zap.Bool("done", checkpoint.Done))

	return nil
}

// Load returns the checkpoint of a query
func (store *Store) Load(queryID string) (Checkpoint, error) {
	var checkpoint Checkpoint

	err := store.db.View(func(txn *bolt.Tx) error {
		encoded := txn.Bucket(bucketCheckpoints).Get([]byte(queryID))

		if encoded == nil {
			return ErrNotFound
		}

		return json.Unmarshal(encoded, &checkpoint)
	})

	if err != nil {
		return Checkpoint{}, fmt.Errorf("could not load checkpoint %s: %w", queryID, err)
	}

	return checkpoint, nil
}

// Delete removes the checkpoint of a query. Deleting
// a checkpoint that doesn't exist is not an error.
func (store *Store) Delete(queryID string) error {
	if err := store.db.Update(func(txn *bolt.Tx) error {
		return txn.Bucket(bucketCheckpoints).Delete([]byte(queryID))
	}); err != nil {
		return fmt.Errorf("could not delete checkpoint %s: %w", queryID, err)
	}

	return nil
}

// List returns every checkpoint sorted by query ID
func (store *Store) List() ([]Checkpoint, error) {
	checkpoints := []Checkpoint{}

	err := store.db.View(func(txn *bolt.Tx) error {
		return txn.Bucket(bucketCheckpoints).ForEach(func(k, v []byte) error {
			var checkpoint Checkpoint

			if err := json.Unmarshal(v, &checkpoint); err != nil {
				return fmt.Errorf("could not unmarshal checkpoint %s: %w", k, err)
			}

			checkpoints = append(checkpoints, checkpoint)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return checkpoints, nil
}
