package agent

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/marcus/tabsync/internal/op"
)

var opsBucket = []byte("ops")

// Buffer is the durable offline operation queue, backed by a local bolt
// file so buffered operations survive agent restarts.
type Buffer struct {
	db *bolt.DB
}

// OpenBuffer opens (creating if needed) the buffer database at path.
func OpenBuffer(path string) (*Buffer, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open buffer: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(opsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buffer: %w", err)
	}
	return &Buffer{db: db}, nil
}

// Close closes the underlying database.
func (b *Buffer) Close() error {
	return b.db.Close()
}

// Append stores one operation at the tail of the queue.
func (b *Buffer) Append(o op.Op) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode op: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(opsBucket)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bkt.Put(key, data)
	})
}

// Pending returns all buffered operations in append order.
func (b *Buffer) Pending() ([]op.Op, error) {
	var ops []op.Op
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(opsBucket).ForEach(func(_, v []byte) error {
			var o op.Op
			if err := json.Unmarshal(v, &o); err != nil {
				return fmt.Errorf("decode op: %w", err)
			}
			ops = append(ops, o)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Len reports the number of buffered operations.
func (b *Buffer) Len() (int, error) {
	var n int
	err := b.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(opsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Clear drops all buffered operations after a successful sync.
func (b *Buffer) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(opsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(opsBucket)
		return err
	})
}
