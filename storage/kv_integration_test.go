//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/c360studio/reportgen/workflow"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startJetStream(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func connectKV(t *testing.T, url string) *KVStore {
	t.Helper()
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	js, err := jetstream.New(conn)
	require.NoError(t, err)

	s, err := NewKVStore(context.Background(), js)
	require.NoError(t, err)
	return s
}

func TestKVStore(t *testing.T) {
	// Buckets are shared per server, so each subtest gets its own.
	runStoreContract(t, func(t *testing.T) Store {
		return connectKV(t, startJetStream(t))
	})
}

func TestKVStore_SecondConnectionSeesCheckpoint(t *testing.T) {
	url := startJetStream(t)
	ctx := context.Background()

	first := connectKV(t, url)
	require.NoError(t, first.CreateReport(ctx, &Report{ID: "r-1", ProjectID: "p-1"}))
	require.NoError(t, first.SaveCheckpoint(ctx, &Checkpoint{
		ReportID: "r-1",
		Node:     workflow.NodeWriter,
		State:    workflow.State{ProjectID: "p-1", UserID: "u-1", DraftReportID: "r-1"},
	}))

	second := connectKV(t, url)
	cp, err := second.LoadCheckpoint(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", cp.State.ProjectID)

	r, err := second.GetReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ReportGenerating, r.Status)
}
