package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSBackend stores payloads as files under dir/payloads and the index as
// dir/index.json. Writes go through a temp file plus rename so a crashed
// write never leaves a torn payload behind.
type FSBackend struct {
	dir string
}

// NewFSBackend creates the backend directory tree if needed.
func NewFSBackend(dir string) (*FSBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, "payloads"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	return &FSBackend{dir: dir}, nil
}

func (b *FSBackend) WritePayload(ctx context.Context, id string, data []byte) (string, error) {
	location := filepath.Join("payloads", id+".json")
	if err := b.atomicWrite(filepath.Join(b.dir, location), data); err != nil {
		return "", fmt.Errorf("failed to write payload %s: %w", id, err)
	}
	return location, nil
}

func (b *FSBackend) ReadPayload(ctx context.Context, location string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, location))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read payload %s: %w", location, err)
	}
	return data, true, nil
}

func (b *FSBackend) DeletePayload(ctx context.Context, location string) error {
	err := os.Remove(filepath.Join(b.dir, location))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete payload %s: %w", location, err)
	}
	return nil
}

func (b *FSBackend) WriteIndex(ctx context.Context, data []byte) error {
	if err := b.atomicWrite(filepath.Join(b.dir, "index.json"), data); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

func (b *FSBackend) ReadIndex(ctx context.Context) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, "index.json"))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read index: %w", err)
	}
	return data, true, nil
}

func (b *FSBackend) atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	// Flush to disk before the rename: a rename that survives a crash while
	// the data does not would leave a torn payload.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
