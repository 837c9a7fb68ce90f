package server_test

import (
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fcopy/pkg/client"
	"fcopy/pkg/server"
	"fcopy/pkg/topology"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startNode(t *testing.T, partitionRoot string) (client.Target, *server.Server) {
	t.Helper()
	port := freePort(t)
	srv := server.New(server.Config{
		Port:             port,
		MaxConnections:   64,
		SizeLimit:        0,
		ReceiveTimeout:   10 * time.Second,
		KeepAliveTimeout: 10 * time.Second,
		DefaultPartition: "default",
		Partitions:       map[string]string{"default": partitionRoot},
	}, zap.NewNop())
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	return client.Target{Host: "127.0.0.1", Port: uint16(port)}, srv
}

func TestEndToEndChainReplication(t *testing.T) {
	dirA, dirB, dirC := t.TempDir(), t.TempDir(), t.TempDir()
	targetA, _ := startNode(t, dirA)
	targetB, _ := startNode(t, dirB)
	targetC, _ := startNode(t, dirC)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "payload.bin")
	content := make([]byte, 200000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	pool := client.NewPool(zap.NewNop(), 0, 2*time.Second, 10*time.Second, 10*time.Second)
	defer pool.CloseAll()
	sender := client.NewSender(pool, zap.NewNop())

	params := client.SendParams{
		Targets:    []client.Target{targetA, targetB, targetC},
		Parallel:   4,
		ChunkSize:  65536,
		WaitClose:  true,
		DirectIO:   false,
		SendMethod: topology.Chain,
	}

	result, err := sender.SendFile(context.Background(), srcPath, params)
	require.NoError(t, err)
	require.EqualValues(t, len(content), result.BytesSent)

	for _, dir := range []string{dirA, dirB, dirC} {
		got, err := os.ReadFile(filepath.Join(dir, "payload.bin"))
		require.NoError(t, err)
		require.Equal(t, content, got)
	}
}

func TestEndToEndTreeReplication(t *testing.T) {
	dirs := make([]string, 4)
	targets := make([]client.Target, 4)
	for i := range dirs {
		dirs[i] = t.TempDir()
		targets[i], _ = startNode(t, dirs[i])
	}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "tree.bin")
	content := make([]byte, 400000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	pool := client.NewPool(zap.NewNop(), 0, 2*time.Second, 10*time.Second, 10*time.Second)
	defer pool.CloseAll()
	sender := client.NewSender(pool, zap.NewNop())

	params := client.SendParams{
		Targets:    targets,
		Parallel:   6,
		ChunkSize:  131072,
		WaitClose:  true,
		SendMethod: topology.Tree,
	}

	result, err := sender.SendFile(context.Background(), srcPath, params)
	require.NoError(t, err)
	require.EqualValues(t, len(content), result.BytesSent)

	for _, dir := range dirs {
		got, err := os.ReadFile(filepath.Join(dir, "tree.bin"))
		require.NoError(t, err)
		require.Equal(t, content, got)
	}
}

func TestEndToEndUnalignedLastChunk(t *testing.T) {
	dir := t.TempDir()
	target, _ := startNode(t, dir)

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "odd.bin")
	content := make([]byte, 100000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	pool := client.NewPool(zap.NewNop(), 0, 2*time.Second, 10*time.Second, 10*time.Second)
	defer pool.CloseAll()
	sender := client.NewSender(pool, zap.NewNop())

	params := client.SendParams{
		Targets:   []client.Target{target},
		Parallel:  1,
		ChunkSize: 65536,
		WaitClose: true,
	}

	result, err := sender.SendFile(context.Background(), srcPath, params)
	require.NoError(t, err)
	require.EqualValues(t, len(content), result.BytesSent)

	got, err := os.ReadFile(filepath.Join(dir, "odd.bin"))
	require.NoError(t, err)
	require.Equal(t, content, got)
	require.Len(t, got, 100000)
}
