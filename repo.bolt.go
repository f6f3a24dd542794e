package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

type boltRegistryStorage struct {
	logger *zap.Logger
	client *bolt.DB
	config *BoltDBConfig
}

// GetBoltDBClient setup the database and the root bucket then provides a ready to use client.
func GetBoltDBClient(config *Config) (*bolt.DB, error) {
	db, err := bolt.Open(config.BoltDB.FilePath, 0o600, &bolt.Options{Timeout: config.BoltDB.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open the database, %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, errB := tx.CreateBucketIfNotExists([]byte(config.BoltDB.BucketName)); errB != nil {
			return fmt.Errorf("failed to create %s bucket: %v", config.BoltDB.BucketName, errB)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up bucket: %v", err)
	}
	return db, nil
}

// NewBoltRegistryStorage provides an instance of bolt-based registry storage.
// Each account owns a nested bucket keyed by book id.
func NewBoltRegistryStorage(logger *zap.Logger, boltConfig *BoltDBConfig, client *bolt.DB) RegistryStorage {
	return &boltRegistryStorage{
		logger: logger,
		client: client,
		config: boltConfig,
	}
}

// Close shuts down the bolt-based registry storage.
func (bs *boltRegistryStorage) Close() error {
	return bs.client.Close()
}

// Load retrieves all records of the account.
func (bs *boltRegistryStorage) Load(_ context.Context, account string) (map[string]Record, error) {
	records := map[string]Record{}
	err := bs.client.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(bs.config.BucketName))
		if root == nil {
			return ErrRegistryNotFound
		}
		bucket := root.Bucket([]byte(account))
		if bucket == nil {
			return ErrRegistryNotFound
		}
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				bs.logger.Warn("storage: skipping unreadable record",
					zap.String("account", account),
					zap.String("book.id", string(k)),
					zap.Error(err),
				)
				return nil
			}
			records[record.ID()] = record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Save replaces the bucket of the account inside a single transaction.
func (bs *boltRegistryStorage) Save(_ context.Context, account string, records map[string]Record) error {
	return bs.client.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(bs.config.BucketName))
		if err != nil {
			return err
		}
		if root.Bucket([]byte(account)) != nil {
			if err = root.DeleteBucket([]byte(account)); err != nil {
				return err
			}
		}
		bucket, err := root.CreateBucket([]byte(account))
		if err != nil {
			return err
		}
		for _, record := range sortedRecords(records) {
			data, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("encode record %s: %w", record.ID(), err)
			}
			if err = bucket.Put([]byte(record.ID()), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete drops the bucket of the account.
func (bs *boltRegistryStorage) Delete(_ context.Context, account string) error {
	return bs.client.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(bs.config.BucketName))
		if root == nil || root.Bucket([]byte(account)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(account))
	})
}
