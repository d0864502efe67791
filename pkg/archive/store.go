// Package archive keeps applied compiled topologies on disk, keyed by the
// intent digest they were compiled from.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
)

// Store provides on-disk storage for compiled topologies.
// Directory structure:
//
//	<root>/
//	  compiled/
//	    sha256/
//	      <hex digest>.json
type Store struct {
	root string
	mu   sync.RWMutex
}

// NewStore creates a new on-disk store at the given root directory.
func NewStore(root string) (*Store, error) {
	dir := filepath.Join(root, "compiled", string(digest.SHA256))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory %s: %w", dir, err)
	}
	return &Store{root: root}, nil
}

// Put stores data under d. Writing the same digest twice replaces the
// previous entry.
func (s *Store) Put(d digest.Digest, data []byte) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid digest %q: %w", d, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(d)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", d, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Get returns the data stored under d. A missing entry returns an error
// wrapping fs.ErrNotExist.
func (s *Store) Get(d digest.Digest) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid digest %q: %w", d, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return os.ReadFile(s.path(d))
}

// Has reports whether d is stored and its size.
func (s *Store) Has(d digest.Digest) (exists bool, size int64) {
	if d.Validate() != nil {
		return false, 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(s.path(d))
	if err != nil {
		return false, 0
	}
	return true, info.Size()
}

// List returns every stored digest, sorted.
func (s *Store) List() ([]digest.Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	compiledDir := filepath.Join(s.root, "compiled")
	algs, err := os.ReadDir(compiledDir)
	if err != nil {
		return nil, fmt.Errorf("listing archive: %w", err)
	}

	var out []digest.Digest
	for _, alg := range algs {
		if !alg.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(compiledDir, alg.Name()))
		if err != nil {
			return nil, fmt.Errorf("listing archive: %w", err)
		}
		for _, e := range entries {
			hex, ok := strings.CutSuffix(e.Name(), ".json")
			if e.IsDir() || !ok {
				continue
			}
			d := digest.NewDigestFromEncoded(digest.Algorithm(alg.Name()), hex)
			if d.Validate() != nil {
				continue
			}
			out = append(out, d)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Remove deletes the entry for d. Removing a missing entry is not an error.
func (s *Store) Remove(d digest.Digest) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid digest %q: %w", d, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(d)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ModTime returns when d was last written.
func (s *Store) ModTime(d digest.Digest) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(s.path(d))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *Store) path(d digest.Digest) string {
	return filepath.Join(s.root, "compiled", string(d.Algorithm()), d.Encoded()+".json")
}
