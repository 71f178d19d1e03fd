package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/signalk/signalk-server-go/internal/logs"
)

// FileStorage persists each record as one JSON document per file under
// dir, written atomically via temp-file-then-rename so a crash mid-write
// never leaves a half-written document behind.
type FileStorage struct {
	dir     string
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewFileStorage opens (creating if absent) dir as the record directory.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(filepath.Join(dir, string(RecordPluginPrefix)), 0o755); err != nil {
		return nil, err
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) pathFor(record Record) string {
	return filepath.Join(f.dir, string(record)+".json")
}

func (f *FileStorage) load(record Record, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.pathFor(record))
	if os.IsNotExist(err) {
		return notFound(record)
	}
	if err != nil {
		return corrupt(record, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return corrupt(record, err)
	}
	return nil
}

func (f *FileStorage) save(record Record, in any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	final := f.pathFor(record)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func (f *FileStorage) LoadSettings() (*Settings, error) {
	var s Settings
	if err := f.load(RecordSettings, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *FileStorage) SaveSettings(s *Settings) error { return f.save(RecordSettings, s) }

func (f *FileStorage) LoadVessel() (*Vessel, error) {
	var v Vessel
	if err := f.load(RecordVessel, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (f *FileStorage) SaveVessel(v *Vessel) error { return f.save(RecordVessel, v) }

func (f *FileStorage) LoadSecurity() (*Security, error) {
	var s Security
	if err := f.load(RecordSecurity, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *FileStorage) SaveSecurity(s *Security) error { return f.save(RecordSecurity, s) }

func (f *FileStorage) LoadPluginConfig(id string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := f.load(PluginRecord(id), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (f *FileStorage) SavePluginConfig(id string, value json.RawMessage) error {
	return f.save(PluginRecord(id), value)
}

// Watch starts watching dir for hand-edited record files and invokes
// onChange(record) once per detected write. This is additive to §4.7 — an
// operator editing settings.json on disk is picked up without a restart.
// Call Close to stop watching.
func (f *FileStorage) Watch(onChange func(record Record)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(f.dir); err != nil {
		w.Close()
		return err
	}
	f.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				name := filepath.Base(ev.Name)
				record := Record(strings.TrimSuffix(name, ".json"))
				onChange(record)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logs.Warning.Println("config watch error:", err)
			}
		}
	}()
	return nil
}

// Close stops the filesystem watcher, if one was started.
func (f *FileStorage) Close() error {
	if f.watcher == nil {
		return nil
	}
	return f.watcher.Close()
}
