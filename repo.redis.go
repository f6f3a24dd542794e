package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const HRegistryPrefix string = "registry:"

type redisRegistryStorage struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedisRegistryStorage provides an instance of redis-based registry storage.
// Each account is a hash of book id to record.
func NewRedisRegistryStorage(logger *zap.Logger, client *redis.Client) RegistryStorage {
	return &redisRegistryStorage{
		logger: logger,
		client: client,
	}
}

// GetRedisClient provides a ready to use redis client.
func GetRedisClient(config *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", config.Redis.Host, config.Redis.Port),
		DialTimeout:  config.Redis.DialTimeout,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
		PoolSize:     config.Redis.PoolSize,
		PoolTimeout:  config.Redis.PoolTimeout,
		Password:     config.Redis.Password,
		Username:     config.Redis.Username,
		DB:           config.Redis.DatabaseIndex,
	})

	// test connection.
	if pong, err := client.Ping(context.Background()).Result(); pong != "PONG" || err != nil {
		return client, fmt.Errorf("test connection failed: %v", err)
	}
	return client, nil
}

func registryKey(account string) string {
	return HRegistryPrefix + account
}

// Load retrieves all records of the account.
func (rs *redisRegistryStorage) Load(ctx context.Context, account string) (map[string]Record, error) {
	values, err := rs.client.HGetAll(ctx, registryKey(account)).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrRegistryNotFound
	}
	records := make(map[string]Record, len(values))
	for id, recordJSONString := range values {
		var record Record
		if err = json.Unmarshal([]byte(recordJSONString), &record); err != nil {
			rs.logger.Warn("storage: skipping unreadable record",
				zap.String("account", account),
				zap.String("book.id", id),
				zap.Error(err),
			)
			continue
		}
		records[record.ID()] = record
	}
	return records, nil
}

// Save replaces the hash of the account in a MULTI/EXEC transaction.
func (rs *redisRegistryStorage) Save(ctx context.Context, account string, records map[string]Record) error {
	fields := make([]interface{}, 0, 2*len(records))
	for _, record := range sortedRecords(records) {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", record.ID(), err)
		}
		fields = append(fields, record.ID(), data)
	}
	key := registryKey(account)
	_, err := rs.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields...)
		}
		return nil
	})
	return err
}

// Delete removes the hash of the account.
func (rs *redisRegistryStorage) Delete(ctx context.Context, account string) error {
	return rs.client.Del(ctx, registryKey(account)).Err()
}

// Close is a no-op. The client is shared and closed by the App.
func (rs *redisRegistryStorage) Close() error {
	return nil
}
