package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	registryFolderName = "registry"
	registryFileName   = "registry.json"
)

type fileRegistryStorage struct {
	logger *zap.Logger
	dir    string
}

// NewFileRegistryStorage provides a registry storage keeping one JSON
// document per account under dir.
func NewFileRegistryStorage(logger *zap.Logger, dir string) RegistryStorage {
	return &fileRegistryStorage{logger: logger, dir: dir}
}

// RegistryPath returns <dir>/<account>/registry/registry.json.
func (frs *fileRegistryStorage) RegistryPath(account string) string {
	return filepath.Join(frs.dir, url.PathEscape(account), registryFolderName, registryFileName)
}

// Load reads the registry file of the account.
func (frs *fileRegistryStorage) Load(_ context.Context, account string) (map[string]Record, error) {
	data, err := os.ReadFile(frs.RegistryPath(account))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrRegistryNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeRegistry(frs.logger, data)
}

// Save writes the registry into a temporary file next to the target then
// renames it over the previous one.
func (frs *fileRegistryStorage) Save(_ context.Context, account string, records map[string]Record) error {
	data, err := EncodeRegistry(records)
	if err != nil {
		return err
	}
	path := frs.RegistryPath(account)
	folder := filepath.Dir(path)
	if err = os.MkdirAll(folder, 0o700); err != nil {
		return fmt.Errorf("failed to create registry folder: %w", err)
	}

	tmp, err := os.CreateTemp(folder, registryFileName+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temporary registry file: %w", err)
	}
	cleanup := func() {
		if rerr := os.Remove(tmp.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			frs.logger.Warn("storage: failed to remove temporary registry file", zap.String("file", tmp.Name()), zap.Error(rerr))
		}
	}

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to flush registry: %w", err)
	}
	if err = tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close registry: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// Delete removes the registry file of the account. A missing file is not an error.
func (frs *fileRegistryStorage) Delete(_ context.Context, account string) error {
	err := os.Remove(frs.RegistryPath(account))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (frs *fileRegistryStorage) Close() error {
	return nil
}
