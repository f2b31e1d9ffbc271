package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-order-bot/internal/repo"
)

// SQLStore keeps the address in the endpoint_settings table.
type SQLStore struct {
	DB *gorm.DB
}

// Load implements Store.
func (s SQLStore) Load(ctx context.Context) (string, error) {
	rec, err := repo.GetEndpoint(ctx, s.DB)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.Address, nil
}

// Save implements Store.
func (s SQLStore) Save(ctx context.Context, address, updatedBy string) error {
	return repo.PutEndpoint(ctx, s.DB, address, updatedBy)
}

// FileStore keeps the address as the only content of a text file.
type FileStore struct {
	Path string
}

// Load implements Store. A missing file means no address.
func (s FileStore) Load(context.Context) (string, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Save implements Store. The file is replaced via rename so a crash leaves
// either the old or the new address on disk.
func (s FileStore) Save(_ context.Context, address, _ string) error {
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".endpoint-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(address + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path)
}
