package config

import (
	"encoding/json"

	"github.com/signalk/signalk-server-go/internal/skerr"
)

// Storage is the capability contract every backend implements: four
// operations per record kind, no open/close lifecycle, safe to call from
// handler code without carrying a resource. Every Load call distinguishes
// NotFound (caller supplies a default) from Corrupt (bubbles to the
// operator).
type Storage interface {
	LoadSettings() (*Settings, error)
	SaveSettings(*Settings) error

	LoadVessel() (*Vessel, error)
	SaveVessel(*Vessel) error

	LoadSecurity() (*Security, error)
	SaveSecurity(*Security) error

	LoadPluginConfig(id string) (json.RawMessage, error)
	SavePluginConfig(id string, value json.RawMessage) error
}

// notFound and corrupt build the two documented failure kinds with the
// offending record name attached.
func notFound(record Record) error {
	return skerr.Newf(skerr.KindNotFound, "config record %q not found", record)
}

func corrupt(record Record, cause error) error {
	return skerr.Newf(skerr.KindCorrupt, "config record %q is corrupt: %v", record, cause)
}
