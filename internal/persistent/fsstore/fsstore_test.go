package fsstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := New()
	path := filepath.Join(dir, "settings.json")

	ok, err := d.Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("Exists = true before first write")
	}

	if err := d.Write(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := d.Write(path, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	got, err := d.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("Read = %q, want %q", got, `{"a":2}`)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the store file", len(entries))
	}
}

func TestMkdirAllNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := New().MkdirAll(dir); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	ok, err := New().Exists(dir)
	if err != nil || !ok {
		t.Fatalf("Exists(%s) = %v, %v", dir, ok, err)
	}
}

func TestWriteMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "store.json")
	if err := New().Write(path, []byte("{}")); err == nil {
		t.Fatal("expected error writing into a missing directory")
	}
}
