package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/comms/comms"
)

func TestParsePeers(t *testing.T) {
	descs, err := parsePeers([]string{"a=127.0.0.1:1", " b = 127.0.0.1:2 "})
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, comms.EndpointDesc{Name: "b", Address: "127.0.0.1:2", Index: 1}, descs[1])

	for _, bad := range [][]string{{"a"}, {"=x"}, {"a="}, {"a=1", "a=2"}} {
		_, err := parsePeers(bad)
		assert.ErrorIs(t, err, comms.ErrInvalidEndpoint, "%v", bad)
	}
}

func testOptions(t *testing.T) benchOptions {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return benchOptions{
		processName:  "me",
		listener:     lis,
		payloadSize:  8,
		batch:        32,
		duration:     100 * time.Millisecond,
		drainTimeout: 10 * time.Second,
	}
}

func TestRunLocalOnly(t *testing.T) {
	o := testOptions(t)

	report, err := run(context.Background(), o)
	require.NoError(t, err)
	assert.Positive(t, report.Submitted)
	assert.Equal(t, report.Submitted, report.completed())
	assert.Zero(t, report.TransportFailure)
	assert.Contains(t, report.String(), "submitted=")
}

func TestRunLoopbackPeer(t *testing.T) {
	o := testOptions(t)
	addr := o.listener.Addr().String()
	o.peers = []string{"me=" + addr, "echo=" + addr}

	report, err := run(context.Background(), o)
	require.NoError(t, err)
	assert.Positive(t, report.Submitted)
	assert.Equal(t, report.Submitted, report.completed())
	assert.Positive(t, report.Delivered)
}

func TestRunRejectsUnknownSelf(t *testing.T) {
	o := testOptions(t)
	o.self = "nobody"
	o.peers = []string{"me=" + o.listener.Addr().String()}

	_, err := run(context.Background(), o)
	assert.ErrorIs(t, err, comms.ErrInvalidEndpoint)
}

func TestLoadEnv(t *testing.T) {
	require.NoError(t, loadEnv(""))
	require.NoError(t, loadEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), "bench.env")
	require.NoError(t, os.WriteFile(path, []byte("COMMSBENCH_TEST_VALUE=42\n"), 0644))
	t.Setenv("COMMSBENCH_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("COMMSBENCH_TEST_VALUE"))
	require.NoError(t, loadEnv(path))
	assert.Equal(t, "42", os.Getenv("COMMSBENCH_TEST_VALUE"))
}
