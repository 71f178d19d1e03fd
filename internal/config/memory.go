package config

import "encoding/json"

// MemoryStorage is an in-memory Storage implementation used by tests,
// adapted from the reference implementation's MemoryConfigStorage test
// double.
type MemoryStorage struct {
	settings *Settings
	vessel   *Vessel
	security *Security
	plugins  map[string]json.RawMessage
}

// NewMemoryStorage returns an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{plugins: map[string]json.RawMessage{}}
}

func (m *MemoryStorage) LoadSettings() (*Settings, error) {
	if m.settings == nil {
		return nil, notFound(RecordSettings)
	}
	return m.settings, nil
}

func (m *MemoryStorage) SaveSettings(s *Settings) error { m.settings = s; return nil }

func (m *MemoryStorage) LoadVessel() (*Vessel, error) {
	if m.vessel == nil {
		return nil, notFound(RecordVessel)
	}
	return m.vessel, nil
}

func (m *MemoryStorage) SaveVessel(v *Vessel) error { m.vessel = v; return nil }

func (m *MemoryStorage) LoadSecurity() (*Security, error) {
	if m.security == nil {
		return nil, notFound(RecordSecurity)
	}
	return m.security, nil
}

func (m *MemoryStorage) SaveSecurity(s *Security) error { m.security = s; return nil }

func (m *MemoryStorage) LoadPluginConfig(id string) (json.RawMessage, error) {
	v, ok := m.plugins[id]
	if !ok {
		return nil, notFound(PluginRecord(id))
	}
	return v, nil
}

func (m *MemoryStorage) SavePluginConfig(id string, value json.RawMessage) error {
	m.plugins[id] = value
	return nil
}
