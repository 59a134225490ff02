package peerdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testAddr string

func (a testAddr) Network() string { return "tcp" }
func (a testAddr) String() string  { return string(a) }

func TestAuthenticateInboundAllowsUnbannedAddress(t *testing.T) {
	m := NewMemory()
	res, err := m.AuthenticateInbound(context.Background(), testAddr("1.2.3.4:9901"))
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.False(t, res.Banned)
}

func TestAuthenticateInboundRejectsPermanentlyBannedAddress(t *testing.T) {
	m := NewMemory()
	m.Ban(EndpointAddress("1.2.3.4:9901"), time.Time{})

	res, err := m.AuthenticateInbound(context.Background(), testAddr("1.2.3.4:9901"))
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.True(t, res.Banned)
}

func TestAuthenticateInboundLiftsExpiredBan(t *testing.T) {
	m := NewMemory()
	m.Ban(EndpointAddress("1.2.3.4:9901"), time.Now().Add(-time.Minute))

	res, err := m.AuthenticateInbound(context.Background(), testAddr("1.2.3.4:9901"))
	require.NoError(t, err)
	require.True(t, res.Allowed)

	banned, err := m.AsyncGetBanned(context.Background())
	require.NoError(t, err)
	require.Empty(t, banned)
}

func TestAsyncUnbanLiftsActiveBan(t *testing.T) {
	m := NewMemory()
	addr := EndpointAddress("5.6.7.8:9901")
	m.Ban(addr, time.Time{})

	require.NoError(t, m.AsyncUnban(context.Background(), addr))

	res, err := m.AuthenticateInbound(context.Background(), testAddr(addr))
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestAsyncSetSyncedRecordsLastValue(t *testing.T) {
	m := NewMemory()
	require.False(t, m.Synced())
	require.NoError(t, m.AsyncSetSynced(context.Background(), true))
	require.True(t, m.Synced())
}
