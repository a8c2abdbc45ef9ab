package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yuxki/dytrust/pkg/revocation"
	"go.etcd.io/bbolt"
)

const tokensBucket = "tokens"

// BoltRepository is a revocation.Repository kept in a single bbolt file.
// Rows are stored as JSON under their lookup key.
type BoltRepository struct {
	db       *bbolt.DB
	exchange RowExchange
}

// OpenBoltRepository opens or creates the database file at path.
func OpenBoltRepository(path string) (*BoltRepository, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(tokensBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRepository{
		db:       db,
		exchange: NewRowExchange(),
	}, nil
}

// Close releases the database file.
func (b *BoltRepository) Close() error {
	return b.db.Close()
}

func (b *BoltRepository) get(tx *bbolt.Tx, key string) (Row, bool, error) {
	var row Row
	v := tx.Bucket([]byte(tokensBucket)).Get([]byte(key))
	if v == nil {
		return row, false, nil
	}
	if err := json.Unmarshal(v, &row); err != nil {
		return row, true, err
	}
	return row, true, nil
}

func (b *BoltRepository) put(tx *bbolt.Tx, key string, tok *revocation.Token) error {
	if err := tok.Validate(); err != nil {
		return err
	}
	v, err := json.Marshal(b.exchange.FormatRow(key, tok))
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(tokensBucket)).Put([]byte(key), v)
}

// Find returns the token stored under key.
func (b *BoltRepository) Find(_ context.Context, key string) (*revocation.Token, error) {
	var entry RowEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		row, ok, err := b.get(tx, key)
		if err != nil {
			return err
		}
		if !ok {
			return revocation.ErrNotFound
		}
		entry = b.exchange.ParseRow(row)
		return entry.Err()
	})
	if err != nil {
		return nil, err
	}
	return entry.Token, nil
}

// Insert stores tok under a new key.
func (b *BoltRepository) Insert(_ context.Context, key string, tok *revocation.Token) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(tokensBucket)).Get([]byte(key)) != nil {
			return revocation.ErrKeyExists
		}
		return b.put(tx, key, tok)
	})
}

// Update replaces the token stored under a known key.
func (b *BoltRepository) Update(_ context.Context, key string, tok *revocation.Token) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(tokensBucket)).Get([]byte(key)) == nil {
			return revocation.ErrNotFound
		}
		return b.put(tx, key, tok)
	})
}

// Remove deletes the token stored under key.
func (b *BoltRepository) Remove(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(tokensBucket))
		if bucket.Get([]byte(key)) == nil {
			return revocation.ErrNotFound
		}
		return bucket.Delete([]byte(key))
	})
}

// Scan reads all rows. Rows that can not be decoded are returned with
// MalformRaw errors so that they can be reported and swept.
func (b *BoltRepository) Scan(ctx context.Context) ([]RowEntry, error) {
	entries := make([]RowEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tokensBucket)).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				entries = append(entries, RowEntry{
					Key:    string(k),
					Errors: map[InvalidWith]error{MalformRaw: InvalidRowError{attr: "row", msg: err.Error()}},
				})
				return nil
			}
			entries = append(entries, b.exchange.ParseRow(row))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
