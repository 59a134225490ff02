package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteThenLoadConfigFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	want := DefaultConfig()
	want.Moniker = "test-node"
	want.Eventloop.MaxRequests = 7
	want.Eventloop.PingTimeout = Duration(90 * time.Second)

	require.NoError(t, WriteConfigFile(path, want))

	got, err := LoadConfigFile(path)
	require.NoError(t, err)

	require.Equal(t, want.Moniker, got.Moniker)
	require.Equal(t, want.Eventloop.MaxRequests, got.Eventloop.MaxRequests)
	require.Equal(t, want.Eventloop.PingTimeout, got.Eventloop.PingTimeout)
	require.NoError(t, got.Validate())
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Format = "xml"
	require.Error(t, cfg.Validate())
}
