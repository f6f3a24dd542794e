package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

var (
	ErrRegistryNotFound = errors.New("registry not found")
	ErrCorruptRegistry  = errors.New("corrupt registry data")
)

// RegistryStorage persists the whole registry of one account at a time.
// Save must replace the previous content atomically: a failed save leaves
// the previously committed registry readable.
type RegistryStorage interface {
	Load(ctx context.Context, account string) (map[string]Record, error)
	Save(ctx context.Context, account string, records map[string]Record) error
	Delete(ctx context.Context, account string) error
	Close() error
}

// registryDocument is the serialized registry of an account.
type registryDocument struct {
	Records []json.RawMessage `json:"records"`
}

// sortedRecords returns the records ordered by book id so that saved
// documents are stable.
func sortedRecords(records map[string]Record) []Record {
	list := make([]Record, 0, len(records))
	for _, r := range records {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// EncodeRegistry serializes records as {"records":[...]}.
func EncodeRegistry(records map[string]Record) ([]byte, error) {
	doc := registryDocument{Records: make([]json.RawMessage, 0, len(records))}
	for _, r := range sortedRecords(records) {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode record %s: %w", r.ID(), err)
		}
		doc.Records = append(doc.Records, data)
	}
	return json.Marshal(doc)
}

// DecodeRegistry parses a document written by EncodeRegistry. Records that
// cannot be decoded are skipped and logged. A document that is not a
// registry at all is reported as ErrCorruptRegistry.
func DecodeRegistry(logger *zap.Logger, data []byte) (map[string]Record, error) {
	var doc registryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRegistry, err)
	}
	records := make(map[string]Record, len(doc.Records))
	for _, raw := range doc.Records {
		record, err := decodeRecord(raw)
		if err != nil {
			logger.Warn("storage: skipping unreadable record", zap.Error(err))
			continue
		}
		records[record.ID()] = record
	}
	return records, nil
}

func decodeRecord(data []byte) (Record, error) {
	var record Record
	err := json.Unmarshal(data, &record)
	return record, err
}
