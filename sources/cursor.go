package sources

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var cursorBucket = []byte("poll_cursors")

// CursorStore persists table-poll positions in a local bbolt file so a
// restarted poller resumes where it left off instead of replaying the table.
type CursorStore struct {
	db *bolt.DB
}

// OpenCursorStore opens (or creates) the cursor file.
func OpenCursorStore(path string) (*CursorStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cursorBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cursor store: %w", err)
	}
	return &CursorStore{db: db}, nil
}

func cursorKey(tenantID, table string) []byte {
	return []byte(tenantID + "/" + table)
}

// Get returns the stored cursor for (tenant, table), empty when none.
func (c *CursorStore) Get(tenantID, table string) (string, error) {
	var value string
	err := c.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(cursorBucket).Get(cursorKey(tenantID, table)); raw != nil {
			value = string(raw)
		}
		return nil
	})
	return value, err
}

// Put stores the cursor for (tenant, table).
func (c *CursorStore) Put(tenantID, table, cursor string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cursorBucket).Put(cursorKey(tenantID, table), []byte(cursor))
	})
}

// Close releases the underlying file.
func (c *CursorStore) Close() error {
	return c.db.Close()
}
