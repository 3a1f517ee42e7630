package cas

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestPutAndRetrieve(t *testing.T) {
	s := newTestStore(t)
	data := []byte("ID3 fake mp3 frame")

	d, err := s.Put(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if d.SHA256 != Hash(data) || d.BLAKE3 != Blake3Hash(data) || d.Size != int64(len(data)) {
		t.Errorf("Put() = %+v", d)
	}

	got, err := s.Retrieve(d.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Retrieve() = %q", got)
	}
	if err := s.Verify(d); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}

func TestPutDeduplicates(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.Put(strings.NewReader("same"))
	b, err := s.Put(strings.NewReader("same"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("digests differ: %+v vs %+v", a, b)
	}
	n := 0
	_ = s.Walk(func(string, int64) error { n++; return nil })
	if n != 1 {
		t.Errorf("Walk() saw %d blobs, want 1", n)
	}
}

func TestLookupBlake3(t *testing.T) {
	s := newTestStore(t)
	d, _ := s.Put(strings.NewReader("pointer"))

	sha, err := s.LookupBlake3(d.BLAKE3)
	if err != nil || sha != d.SHA256 {
		t.Fatalf("LookupBlake3() = %q, %v", sha, err)
	}
	if _, err := s.LookupBlake3(Blake3Hash([]byte("other"))); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("missing pointer error = %v", err)
	}
	if _, err := s.LookupBlake3("xyz"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("bad hash error = %v", err)
	}
}

func TestPathAndDelete(t *testing.T) {
	s := newTestStore(t)
	d, _ := s.Put(strings.NewReader("clip"))

	p, err := s.Path(d.SHA256)
	if err != nil || !strings.HasPrefix(p, s.Root()) {
		t.Fatalf("Path() = %q, %v", p, err)
	}
	if err := s.Delete(d); err != nil {
		t.Fatal(err)
	}
	if s.Exists(d.SHA256) {
		t.Error("blob still exists after Delete")
	}
	if err := s.Delete(d); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("second Delete() = %v", err)
	}
	if _, err := s.Path("NOT-A-HASH"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("Path(invalid) = %v", err)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	s := newTestStore(t)
	d, _ := s.Put(strings.NewReader("original"))
	p, _ := s.Path(d.SHA256)
	if err := os.WriteFile(p, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Verify(d); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Verify() = %v, want ErrCorrupt", err)
	}
}

func TestStoreEmptyBlob(t *testing.T) {
	s := newTestStore(t)
	sha, err := s.Store(nil)
	if err != nil {
		t.Fatal(err)
	}
	if sha != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("empty sha = %s", sha)
	}
}
