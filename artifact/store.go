// Package artifact owns every transient file exchanged between users, the
// converter and the device backends. Files live under a single temp root and
// are addressed by opaque, owner-scoped handles. Callers never see paths
// except through Path, so ownership checks cannot be bypassed.
package artifact

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/one-zero-eight/printers/apperr"
)

type record struct {
	path      string
	createdAt time.Time
}

// Store maps (owner, handle) pairs to temp files.
type Store struct {
	root string

	mu     sync.Mutex
	owners map[string]*ownerFiles
}

type ownerFiles struct {
	mu    sync.Mutex
	files map[string]record
}

// NewStore creates the temp root if needed and returns an empty store.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve temp root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create temp root: %w: %v", apperr.ErrIO, err)
	}
	return &Store{root: abs, owners: make(map[string]*ownerFiles)}, nil
}

func (s *Store) owner(ownerID string) *ownerFiles {
	s.mu.Lock()
	defer s.mu.Unlock()
	of, ok := s.owners[ownerID]
	if !ok {
		of = &ownerFiles{files: make(map[string]record)}
		s.owners[ownerID] = of
	}
	return of
}

// newHandle returns a fresh unguessable handle. 16 random bytes, hex encoded,
// so the textual form carries no path separators.
func newHandle(ext string) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate handle: %w", err)
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return hex.EncodeToString(buf[:]) + "." + ext, nil
}

// Put writes the reader's content to a fresh temp file and returns its
// handle. The write is atomic: the file appears under its final name only
// once fully written.
func (s *Store) Put(ownerID, ext string, r io.Reader) (string, error) {
	handle, err := newHandle(ext)
	if err != nil {
		return "", err
	}
	final := filepath.Join(s.root, handle)

	tmp, err := os.CreateTemp(s.root, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	_, werr := io.Copy(tmp, r)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		if werr == nil {
			werr = cerr
		}
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, werr)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}

	of := s.owner(ownerID)
	of.mu.Lock()
	of.files[handle] = record{path: final, createdAt: time.Now()}
	of.mu.Unlock()
	return handle, nil
}

// PutBytes is Put for in-memory content.
func (s *Store) PutBytes(ownerID, ext string, data []byte) (string, error) {
	return s.Put(ownerID, ext, strings.NewReader(string(data)))
}

// Path resolves a handle to its absolute path. Handles of other owners
// resolve to ErrNotFound, indistinguishable from absent handles.
func (s *Store) Path(ownerID, handle string) (string, error) {
	of := s.owner(ownerID)
	of.mu.Lock()
	rec, ok := of.files[handle]
	of.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("artifact %q: %w", handle, apperr.ErrNotFound)
	}
	return rec.path, nil
}

// Replace stores newData under a fresh handle and removes the old one.
// The old handle disappears only after the new file is durable.
func (s *Store) Replace(ownerID, handle string, newData io.Reader, ext string) (string, error) {
	of := s.owner(ownerID)
	of.mu.Lock()
	old, ok := of.files[handle]
	of.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("artifact %q: %w", handle, apperr.ErrNotFound)
	}

	newHandle, err := s.Put(ownerID, ext, newData)
	if err != nil {
		return "", err
	}

	of.mu.Lock()
	delete(of.files, handle)
	of.mu.Unlock()
	os.Remove(old.path)
	return newHandle, nil
}

// ReplaceWithFile is Replace for content that already sits in a file
// (e.g. a merge result written by the PDF tooling). The source file is
// consumed.
func (s *Store) ReplaceWithFile(ownerID, handle, srcPath, ext string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrIO, err)
	}
	defer f.Close()
	defer os.Remove(srcPath)
	return s.Replace(ownerID, handle, f, ext)
}

// Delete removes the handle and its file. Deleting an absent handle
// succeeds.
func (s *Store) Delete(ownerID, handle string) error {
	of := s.owner(ownerID)
	of.mu.Lock()
	rec, ok := of.files[handle]
	if ok {
		delete(of.files, handle)
	}
	of.mu.Unlock()
	if ok {
		if err := os.Remove(rec.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", apperr.ErrIO, err)
		}
	}
	return nil
}

// Count returns the number of live handles for the owner.
func (s *Store) Count(ownerID string) int {
	of := s.owner(ownerID)
	of.mu.Lock()
	defer of.mu.Unlock()
	return len(of.files)
}

// OnTerminate removes all live files, best effort.
func (s *Store) OnTerminate() {
	s.mu.Lock()
	owners := make([]*ownerFiles, 0, len(s.owners))
	for _, of := range s.owners {
		owners = append(owners, of)
	}
	s.mu.Unlock()

	for _, of := range owners {
		of.mu.Lock()
		for h, rec := range of.files {
			os.Remove(rec.path)
			delete(of.files, h)
		}
		of.mu.Unlock()
	}
}
