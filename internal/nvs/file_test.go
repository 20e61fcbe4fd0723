package nvs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePersistsOnCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs", "storage.cbor")

	s, err := OpenFile(path, "storage")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}

	if err := s.SetU32("boot_counter", 42); err != nil {
		t.Fatal(err)
	}
	if err := s.SetI8("drop_rssi", -100); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBlob("guid", []byte{0xFF, 0xFE}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetString("node_name", "Sensor Node"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetU8("provision", 0); err != nil {
		t.Fatal(err)
	}

	// Not yet committed: a fresh open sees nothing.
	before, err := OpenFile(path, "storage")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := before.GetU32("boot_counter"); !errors.Is(err, ErrNotFound) {
		t.Errorf("uncommitted value visible after reopen: %v", err)
	}

	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	after, err := OpenFile(path, "storage")
	if err != nil {
		t.Fatal(err)
	}
	if after.Corrupted() {
		t.Fatal("freshly committed file reported corrupted")
	}

	if v, _ := after.GetU32("boot_counter"); v != 42 {
		t.Errorf("boot_counter = %d, want 42", v)
	}
	if v, _ := after.GetI8("drop_rssi"); v != -100 {
		t.Errorf("drop_rssi = %d, want -100", v)
	}
	if v, _ := after.GetString("node_name"); v != "Sensor Node" {
		t.Errorf("node_name = %q, want %q", v, "Sensor Node")
	}
	if v, err := after.GetU8("provision"); err != nil || v != 0 {
		t.Errorf("provision = %d, %v; want 0, nil", v, err)
	}
	if v, _ := after.GetBlob("guid"); len(v) != 2 || v[0] != 0xFF {
		t.Errorf("guid = %x", v)
	}
}

func TestFileStoreEraseCommits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.cbor")
	s, err := OpenFile(path, "storage")
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SetBlob("lkey", make([]byte, 32))
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	_ = s.Erase("lkey")
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	r, _ := OpenFile(path, "storage")
	if _, err := r.GetBlob("lkey"); !errors.Is(err, ErrNotFound) {
		t.Errorf("erased key still present: %v", err)
	}
}

func TestFileStoreDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.cbor")
	s, err := OpenFile(path, "storage")
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SetBlob("pmk", []byte("0123456789abcdef0123456789abcdef"))
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(fileMagic)+3] ^= 0x01
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	r, err := OpenFile(path, "storage")
	if err != nil {
		t.Fatalf("OpenFile() on corrupt file error = %v", err)
	}
	if !r.Corrupted() {
		t.Error("Corrupted() = false, want true")
	}
	if _, err := r.GetBlob("pmk"); !errors.Is(err, ErrNotFound) {
		t.Errorf("corrupt store should start empty, got %v", err)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt file should be kept aside: %v", err)
	}
}

func TestDecodeImageRejectsOtherNamespace(t *testing.T) {
	data, err := encodeImage(table{"x": {Kind: KindU8, Uint: 1}}, "storage")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodeImage(data, "other"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("decodeImage() error = %v, want ErrCorrupt", err)
	}
	if _, err := decodeImage(data[:10], "storage"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("short data error = %v, want ErrCorrupt", err)
	}
}
