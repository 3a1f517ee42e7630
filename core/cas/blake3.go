package cas

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

func (s *Store) writePointer(d Digest) error {
	p := s.path("blake3", d.BLAKE3)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("cas: create blake3 directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".pointer-*")
	if err != nil {
		return fmt.Errorf("cas: create pointer: %w", err)
	}
	_, werr := tmp.WriteString(d.SHA256)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cas: write pointer: %w", errors.Join(werr, cerr))
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cas: rename pointer: %w", err)
	}
	return nil
}

// LookupBlake3 maps a BLAKE3 name to the blob's SHA-256 name.
func (s *Store) LookupBlake3(b3 string) (string, error) {
	if !hexPattern.MatchString(b3) {
		return "", ErrInvalidHash
	}
	data, err := os.ReadFile(s.path("blake3", b3))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrBlobNotFound
		}
		return "", fmt.Errorf("cas: read pointer: %w", err)
	}
	sha := strings.TrimSpace(string(data))
	if !hexPattern.MatchString(sha) {
		return "", fmt.Errorf("cas: malformed pointer %s", b3)
	}
	return sha, nil
}

// Blake3Hash computes the BLAKE3 name of data without storing it.
func Blake3Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}
