// Package cas stores blobs by the SHA-256 of their content, with a BLAKE3
// pointer index for fast integrity checks. Audio clips downloaded for
// offline playback live here.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrBlobNotFound is returned when a blob with the given hash does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidHash is returned when a hash is not 64 lowercase hex digits.
var ErrInvalidHash = errors.New("invalid hash format")

// ErrCorrupt is returned by Verify when a blob no longer matches its name.
var ErrCorrupt = errors.New("blob content does not match hash")

var hexPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Digest names a stored blob.
type Digest struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
	Size   int64  `json:"size"`
}

// Store is a directory of content-addressed blobs:
//
//	<root>/blobs/sha256/<ab>/<hash>
//	<root>/blobs/blake3/<ab>/<hash>  (contains the sha256 name)
type Store struct {
	root string
}

// NewStore creates the directory layout under root if needed.
func NewStore(root string) (*Store, error) {
	for _, algo := range []string{"sha256", "blake3"} {
		if err := os.MkdirAll(filepath.Join(root, "blobs", algo), 0o755); err != nil {
			return nil, fmt.Errorf("cas: create %s directory: %w", algo, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Put streams r into the store, hashing as it writes. Storing content that
// already exists is a no-op that returns the same Digest.
func (s *Store) Put(r io.Reader) (Digest, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "blobs"), ".incoming-*")
	if err != nil {
		return Digest{}, fmt.Errorf("cas: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	sh, bh := sha256.New(), blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, sh, bh), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Digest{}, fmt.Errorf("cas: write blob: %w", err)
	}

	d := Digest{SHA256: sum(sh), BLAKE3: sum(bh), Size: n}
	dst := s.path("sha256", d.SHA256)
	if _, err := os.Stat(dst); err != nil {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return Digest{}, fmt.Errorf("cas: create prefix directory: %w", err)
		}
		if err := os.Rename(tmpPath, dst); err != nil {
			return Digest{}, fmt.Errorf("cas: rename blob: %w", err)
		}
	}
	if err := s.writePointer(d); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// Store is Put for an in-memory blob; it returns the SHA-256 name.
func (s *Store) Store(data []byte) (string, error) {
	d, err := s.Put(strings.NewReader(string(data)))
	return d.SHA256, err
}

// Retrieve reads a whole blob.
func (s *Store) Retrieve(sha string) ([]byte, error) {
	p, err := s.Path(sha)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Path returns the on-disk location of an existing blob.
func (s *Store) Path(sha string) (string, error) {
	if !hexPattern.MatchString(sha) {
		return "", ErrInvalidHash
	}
	p := s.path("sha256", sha)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrBlobNotFound
		}
		return "", fmt.Errorf("cas: stat blob: %w", err)
	}
	return p, nil
}

// Exists reports whether the blob is present.
func (s *Store) Exists(sha string) bool {
	_, err := s.Path(sha)
	return err == nil
}

// Delete removes a blob and its BLAKE3 pointer. Deleting a missing blob
// returns ErrBlobNotFound.
func (s *Store) Delete(d Digest) error {
	p, err := s.Path(d.SHA256)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("cas: delete blob: %w", err)
	}
	if hexPattern.MatchString(d.BLAKE3) {
		_ = os.Remove(s.path("blake3", d.BLAKE3))
	}
	return nil
}

// Verify rehashes a blob and compares it with its BLAKE3 name.
func (s *Store) Verify(d Digest) error {
	p, err := s.Path(d.SHA256)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("cas: open blob: %w", err)
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("cas: read blob: %w", err)
	}
	if sum(h) != d.BLAKE3 {
		return fmt.Errorf("%w: %s", ErrCorrupt, d.SHA256)
	}
	return nil
}

// Walk calls fn for each stored blob with its SHA-256 name and size.
func (s *Store) Walk(fn func(sha string, size int64) error) error {
	base := filepath.Join(s.root, "blobs", "sha256")
	return filepath.WalkDir(base, func(path string, e fs.DirEntry, err error) error {
		if err != nil || e.IsDir() || !hexPattern.MatchString(e.Name()) {
			return err
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		return fn(e.Name(), info.Size())
	})
}

func (s *Store) path(algo, h string) string {
	return filepath.Join(s.root, "blobs", algo, h[:2], h)
}

func sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Hash computes the SHA-256 name of data without storing it.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
