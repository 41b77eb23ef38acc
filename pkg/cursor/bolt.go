package cursor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var errNoBucket = errors.New("cursor: bucket missing, call EnsureSchema")

// Bolt stores cursors in a local bbolt file, for deployments that keep
// cursors outside the source database.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt opens (or creates) the bbolt file at path.
func OpenBolt(path string, bucket string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cursor file %s: %w", path, err)
	}
	return &Bolt{db: db, bucket: []byte(cmp.Or(bucket, DefaultTable))}, nil
}

func (b *Bolt) EnsureSchema(_ context.Context) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b.bucket)
		return err
	})
}

func (b *Bolt) Get(_ context.Context, table string) (string, bool, error) {
	if table == "" {
		return "", false, ErrEmptyTable
	}

	var (
		token string
		ok    bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return errNoBucket
		}
		if v := bkt.Get([]byte(table)); v != nil {
			token, ok = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("get cursor for %s: %w", table, err)
	}
	return token, ok, nil
}

func (b *Bolt) Put(_ context.Context, table, token string) error {
	if table == "" {
		return ErrEmptyTable
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return errNoBucket
		}
		return bkt.Put([]byte(table), []byte(token))
	})
	if err != nil {
		return fmt.Errorf("save cursor for %s: %w", table, err)
	}
	return nil
}

func (b *Bolt) List(_ context.Context) ([]Entry, error) {
	var entries []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(b.bucket)
		if bkt == nil {
			return errNoBucket
		}
		return bkt.ForEach(func(k, v []byte) error {
			entries = append(entries, Entry{Table: string(k), Cursor: string(v)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	return entries, nil
}

// Close releases the file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}
