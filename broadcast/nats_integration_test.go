//go:build integration

package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second))
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSPublisher(t *testing.T) {
	nc := startNATS(t)

	capture, err := CaptureEvents(nc, "p1")
	require.NoError(t, err)
	defer func() { _ = capture.Stop() }()
	other, err := CaptureEvents(nc, "p2")
	require.NoError(t, err)
	defer func() { _ = other.Stop() }()

	pub := NewNATSPublisher(nc, nil)
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, "p1", Status("Searching...")))
	require.NoError(t, pub.Publish(ctx, "p1", ReportComplete("r1", "p1")))
	require.NoError(t, nc.Flush())

	require.Eventually(t, func() bool { return len(capture.Events()) == 2 }, 2*time.Second, 10*time.Millisecond)
	events := capture.Events()
	assert.Equal(t, TypeStatus, events[0].Type)
	assert.Equal(t, "r1", events[1].ReportID)
	assert.Empty(t, other.Events())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, pub.Publish(cancelled, "p1", Status("late")))
}
