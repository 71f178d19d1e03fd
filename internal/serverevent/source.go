// Package serverevent implements the process-wide periodic task of §4.8:
// SERVERSTATISTICS at 1 Hz, PROVIDERSTATUS on change, and LOG on demand.
// Only sessions in the ServerEvents substate receive these; the source
// never writes to the store.
package serverevent

import (
	"context"
	"sync"
	"time"

	"github.com/signalk/signalk-server-go/internal/hub"
	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/session"
	"github.com/signalk/signalk-server-go/internal/store"
)

// ProviderStatistics mirrors one entry of SERVERSTATISTICS.providerStatistics.
type ProviderStatistics struct {
	ID        string  `json:"id"`
	DeltaRate float64 `json:"deltaRate"`
	DeltaCount uint64 `json:"deltaCount"`
	LastError string  `json:"lastError,omitempty"`
}

// Source is the process-wide periodic statistics/log task.
type Source struct {
	hub   *hub.Hub
	store *store.Store

	implName string
	started  time.Time

	mu          sync.Mutex
	providers   map[string]*ProviderStatistics
	lastDropped uint64

	debugMu    sync.RWMutex
	debugNames map[string]bool

	metrics *Metrics
}

// New constructs a server-event source bound to h and st.
func New(h *hub.Hub, st *store.Store, implName string) *Source {
	return &Source{
		hub:        h,
		store:      st,
		implName:   implName,
		started:    time.Now(),
		providers:  map[string]*ProviderStatistics{},
		debugNames: map[string]bool{},
		metrics:    NewMetrics(),
	}
}

// Metrics exposes the Prometheus collectors that cmd/signalkd serves on
// /metrics.
func (s *Source) Metrics() *Metrics { return s.metrics }

// EnableDebug turns on LOG emission for the given debug namespace,
// configured at startup from the operator's debugNamespaces setting.
func (s *Source) EnableDebug(namespace string) {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	s.debugNames[namespace] = true
}

func (s *Source) debugEnabled(namespace string) bool {
	s.debugMu.RLock()
	defer s.debugMu.RUnlock()
	return s.debugNames[namespace]
}

// Run drives the 1 Hz SERVERSTATISTICS emission until ctx is cancelled.
func (s *Source) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitStatistics()
		}
	}
}

func (s *Source) emitStatistics() {
	stats := s.hub.Stats()
	rate := stats.DeltaRate()
	clients := s.hub.SessionCount()
	paths := s.store.CountLeaves()

	dropped := stats.Dropped()

	s.metrics.DeltaRate.Set(rate)
	s.metrics.WSClients.Set(float64(clients))
	s.metrics.AvailablePaths.Set(float64(paths))

	s.mu.Lock()
	if dropped > s.lastDropped {
		s.metrics.DeltaDropped.Add(float64(dropped - s.lastDropped))
	}
	s.lastDropped = dropped
	providerList := make([]ProviderStatistics, 0, len(s.providers))
	for _, p := range s.providers {
		providerList = append(providerList, *p)
	}
	s.mu.Unlock()

	data := map[string]any{
		"deltaRate":              rate,
		"numberOfAvailablePaths": paths,
		"wsClients":              clients,
		"providerStatistics":     providerList,
		"uptime":                 time.Since(s.started).Seconds(),
		"deltaDropRate":          dropped,
	}
	s.broadcast(model.ServerEventMessage{Type: model.EventServerStatistics, Data: data})
}

// ReportProviderStatus records a provider's latest counters and broadcasts
// PROVIDERSTATUS to ServerEvents sessions.
func (s *Source) ReportProviderStatus(id string, deltaCount uint64, deltaRate float64, lastErr error) {
	p := &ProviderStatistics{ID: id, DeltaRate: deltaRate, DeltaCount: deltaCount}
	if lastErr != nil {
		p.LastError = lastErr.Error()
	}
	s.mu.Lock()
	s.providers[id] = p
	s.mu.Unlock()

	s.broadcast(model.ServerEventMessage{Type: model.EventProviderStatus, Data: []ProviderStatistics{*p}})
}

// Log emits a LOG event if namespace has been enabled by the operator.
func (s *Source) Log(namespace, message string) {
	if !s.debugEnabled(namespace) {
		return
	}
	s.broadcast(model.ServerEventMessage{Type: model.EventLog, Data: map[string]any{
		"namespace": namespace,
		"message":   message,
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}})
}

func (s *Source) broadcast(evt model.ServerEventMessage) {
	s.hub.RangeSessions(func(sess *session.Session) {
		sess.DeliverServerEvent(evt)
	})
}
