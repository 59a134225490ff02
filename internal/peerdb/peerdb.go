// Package peerdb defines the peer database interface the event loop
// consumes as an external collaborator (spec.md §6): ban tracking, the
// synced flag, and inbound authentication decisions. Persistence of that
// state is out of scope (Non-goals); this package only carries the
// contract plus an in-memory reference implementation.
package peerdb

import (
	"context"
	"net"
	"sync"
	"time"
)

// EndpointAddress is a dialable peer address, e.g. "host:port".
type EndpointAddress string

// AuthResult is the peer database's verdict on an inbound connection.
type AuthResult struct {
	Allowed bool
	Banned  bool
	Reason  string
}

// DB is the peer database's consumed interface.
type DB interface {
	// AuthenticateInbound decides whether an inbound dial from addr should
	// be accepted, based on ban state and connection quotas.
	AuthenticateInbound(ctx context.Context, addr net.Addr) (AuthResult, error)

	// LogOutbound records the outcome (success or failure) of an outbound
	// connection attempt to addr, for future peer-sampling weighting.
	LogOutbound(addr EndpointAddress, success bool)

	// AsyncGetBanned returns currently banned addresses.
	AsyncGetBanned(ctx context.Context) ([]EndpointAddress, error)

	// AsyncUnban lifts a ban.
	AsyncUnban(ctx context.Context, addr EndpointAddress) error

	// AsyncSetSynced records the loop's C10-derived synced observation,
	// for external consumers (API, other collaborators) to read.
	AsyncSetSynced(ctx context.Context, synced bool) error
}

type banEntry struct {
	until time.Time // zero means permanent
}

// Memory is an in-memory reference DB implementation.
type Memory struct {
	mu     sync.Mutex
	banned map[EndpointAddress]banEntry
	synced bool
}

// NewMemory returns an empty Memory peer database.
func NewMemory() *Memory {
	return &Memory{banned: make(map[EndpointAddress]banEntry)}
}

func (m *Memory) AuthenticateInbound(ctx context.Context, addr net.Addr) (AuthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ea := EndpointAddress(addr.String())
	if e, ok := m.banned[ea]; ok {
		if e.until.IsZero() || time.Now().Before(e.until) {
			return AuthResult{Allowed: false, Banned: true, Reason: "banned"}, nil
		}
		delete(m.banned, ea)
	}
	return AuthResult{Allowed: true}, nil
}

func (m *Memory) LogOutbound(addr EndpointAddress, success bool) {
	// Reference implementation tracks nothing beyond ban state; a real
	// peer database would use this to adjust sampling weights.
}

// Ban records addr as banned until the given time (zero for permanent).
func (m *Memory) Ban(addr EndpointAddress, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banned[addr] = banEntry{until: until}
}

func (m *Memory) AsyncGetBanned(ctx context.Context) ([]EndpointAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EndpointAddress, 0, len(m.banned))
	for a := range m.banned {
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) AsyncUnban(ctx context.Context, addr EndpointAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.banned, addr)
	return nil
}

func (m *Memory) AsyncSetSynced(ctx context.Context, synced bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = synced
	return nil
}

// Synced reports the last value passed to AsyncSetSynced, for tests.
func (m *Memory) Synced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synced
}
