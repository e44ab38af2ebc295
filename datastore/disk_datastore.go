package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

type (
	DiskDataStore struct {
		rootPath string
	}
)

func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("error in filepath.Abs: %w", err)
	}
	dds := &DiskDataStore{
		rootPath: abs,
	}

	return dds, nil
}

func (dds *DiskDataStore) path(key string) string {
	return filepath.Join(dds.rootPath, filepath.FromSlash(key))
}

func (dds *DiskDataStore) WriteFile(_ context.Context, key string, r io.Reader) (int64, error) {
	p := dds.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return 0, fmt.Errorf("error in os.Create: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("error in io.Copy: %w", err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("error closing %s: %w", key, err)
	}
	return n, nil
}

func (dds *DiskDataStore) CreateFile(_ context.Context, key string, data []byte) error {
	p := dds.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, key)
		}
		return fmt.Errorf("error in os.OpenFile: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("error writing %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("error syncing %s: %w", key, err)
	}
	return f.Close()
}

func (dds *DiskDataStore) ReadFile(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(dds.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return nil, fmt.Errorf("error in os.ReadFile: %w", err)
	}
	return b, nil
}

func (dds *DiskDataStore) LocalPath(_ context.Context, key string) (string, error) {
	p := dds.path(key)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotExist, key)
		}
		return "", fmt.Errorf("error in os.Stat: %w", err)
	}
	return p, nil
}

func (dds *DiskDataStore) readDir(prefix string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dds.path(prefix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("error in os.ReadDir: %w", err)
	}
	return entries, nil
}

func (dds *DiskDataStore) ListDirs(_ context.Context, prefix string) ([]string, error) {
	entries, err := dds.readDir(prefix)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (dds *DiskDataStore) ListFiles(_ context.Context, prefix string) ([]string, error) {
	entries, err := dds.readDir(prefix)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, Join(prefix, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (dds *DiskDataStore) Exists(_ context.Context, prefix string) (bool, error) {
	_, err := os.Stat(dds.path(prefix))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("error in os.Stat: %w", err)
}

func (dds *DiskDataStore) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("refusing to delete the datastore root")
	}
	if err := os.RemoveAll(dds.path(prefix)); err != nil {
		return fmt.Errorf("error in os.RemoveAll: %w", err)
	}
	return nil
}

func (dds *DiskDataStore) Remote() bool {
	return false
}

func (dds *DiskDataStore) Shutdown(context.Context) error {
	return nil
}
