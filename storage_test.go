package resilio

import (
	"os"
	"path/filepath"
	"testing"
)

func testStorageContract(t *testing.T, storage Storage) {
	t.Helper()

	// Absent key.
	_, found, err := storage.Read("missing")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if found {
		t.Fatal("found an unwritten key")
	}

	// Write then read back.
	if err := storage.Write("key", []byte("value")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, found, err := storage.Read("key")
	if err != nil || !found {
		t.Fatalf("Read after Write: %v found=%v", err, found)
	}
	if string(data) != "value" {
		t.Errorf("value = %q, want %q", data, "value")
	}

	// Overwrite.
	if err := storage.Write("key", []byte("value2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, _, _ = storage.Read("key")
	if string(data) != "value2" {
		t.Errorf("value after overwrite = %q", data)
	}

	// Delete, then delete again: both fine.
	if err := storage.Delete("key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := storage.Read("key"); found {
		t.Error("key survived Delete")
	}
	if err := storage.Delete("key"); err != nil {
		t.Errorf("second Delete errored: %v", err)
	}
}

func TestMemoryStorage(t *testing.T) {
	testStorageContract(t, NewMemoryStorage())
}

func TestFileStorage(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	testStorageContract(t, storage)
}

func TestMemoryStorageCopiesValues(t *testing.T) {
	storage := NewMemoryStorage()
	original := []byte("value")
	if err := storage.Write("key", original); err != nil {
		t.Fatalf("Write: %v", err)
	}
	original[0] = 'X'

	data, _, _ := storage.Read("key")
	if string(data) != "value" {
		t.Errorf("stored value mutated through the caller's slice: %q", data)
	}

	data[0] = 'Y'
	again, _, _ := storage.Read("key")
	if string(again) != "value" {
		t.Errorf("stored value mutated through a read slice: %q", again)
	}
}

func TestFileStoragePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	if err := first.Write("key", []byte("durable")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	second, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	data, found, err := second.Read("key")
	if err != nil || !found {
		t.Fatalf("Read: %v found=%v", err, found)
	}
	if string(data) != "durable" {
		t.Errorf("value = %q", data)
	}
}

func TestFileStorageSanitizesKeys(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}

	if err := storage.Write("../escape/attempt", []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, found, err := storage.Read("../escape/attempt")
	if err != nil || !found || string(data) != "v" {
		t.Fatalf("Read: %v found=%v data=%q", err, found, data)
	}

	// Nothing escaped the storage directory.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Dir(filepath.Join(dir, e.Name())) != dir {
			t.Errorf("entry %q outside the storage dir", e.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "..", "escape")); !os.IsNotExist(err) {
		t.Error("key traversal created a path outside the storage dir")
	}
}
