package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/signalk/signalk-server-go/internal/skerr"
)

func TestMemoryStorageNotFound(t *testing.T) {
	m := NewMemoryStorage()
	if _, err := m.LoadSettings(); !skerr.Is(err, skerr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	m.SaveSettings(&Settings{Port: 3000})
	s, err := m.LoadSettings()
	if err != nil || s.Port != 3000 {
		t.Fatalf("expected saved settings to round-trip, got %v err=%v", s, err)
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}

	if _, err := fs.LoadVessel(); !skerr.Is(err, skerr.KindNotFound) {
		t.Fatalf("expected NotFound before any save, got %v", err)
	}

	v := &Vessel{Name: "Tenacious", UUID: "c0d79334-4e25-4245-8892-54e8ccc8021d"}
	if err := fs.SaveVessel(v); err != nil {
		t.Fatalf("SaveVessel: %v", err)
	}
	got, err := fs.LoadVessel()
	if err != nil || got.Name != "Tenacious" {
		t.Fatalf("expected round-tripped vessel, got %+v err=%v", got, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "security.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, err := fs.LoadSecurity(); !skerr.Is(err, skerr.KindCorrupt) {
		t.Fatalf("expected Corrupt for unparseable record, got %v", err)
	}
}

func TestKVStorageChunking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.bolt")
	kv, err := NewKVStorage(path)
	if err != nil {
		t.Fatalf("NewKVStorage: %v", err)
	}
	defer kv.Close()

	big := make([]byte, chunkSize*3+17)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	if err := kv.SavePluginConfig("big-plugin", big); err != nil {
		t.Fatalf("SavePluginConfig: %v", err)
	}
	got, err := kv.LoadPluginConfig("big-plugin")
	if err != nil {
		t.Fatalf("LoadPluginConfig: %v", err)
	}
	if string(got) != string(big) {
		t.Fatalf("chunked round trip mismatch: got %d bytes, want %d", len(got), len(big))
	}

	if _, err := kv.LoadPluginConfig("absent"); !skerr.Is(err, skerr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
