package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store resolves manifests and file contents for a feed and date.
type Store interface {
	Manifest(ctx context.Context, feed, date string) (*Manifest, error)
	Open(ctx context.Context, feed, date, name string) (io.ReadCloser, error)
}

// LocalStore reads {root}/{feed}/{date}/manifest.json and its files from disk.
type LocalStore struct {
	Root string
}

// NewLocalStore roots a store at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Root: dir}
}

// Path returns the on-disk location of an object.
func (s *LocalStore) Path(feed, date, name string) string {
	return filepath.Join(s.Root, feed, date, name)
}

// Manifest loads and decodes the manifest.
func (s *LocalStore) Manifest(_ context.Context, feed, date string) (*Manifest, error) {
	data, err := os.ReadFile(s.Path(feed, date, "manifest.json"))
	if err != nil {
		return nil, notFound(err, feed, date, "manifest.json")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s/%s: %w", feed, date, err)
	}
	return &m, nil
}

// Open opens an archive file for reading.
func (s *LocalStore) Open(_ context.Context, feed, date, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(feed, date, name))
	if err != nil {
		return nil, notFound(err, feed, date, name)
	}
	return f, nil
}

// Has reports whether an object is already on disk.
func (s *LocalStore) Has(feed, date, name string) bool {
	_, err := os.Stat(s.Path(feed, date, name))
	return err == nil
}

// Put writes r to the object path atomically.
func (s *LocalStore) Put(feed, date, name string, r io.Reader) error {
	path := s.Path(feed, date, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), name+".*.part")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func notFound(err error, feed, date, name string) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s/%s", ErrNotFound, feed, date, name)
	}
	return err
}
