package dataplane

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fcopy/pkg/client"
	"fcopy/pkg/registry"
	"fcopy/pkg/wire"
	"fcopy/pkg/wireerr"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleSendFileWritesLocally(t *testing.T) {
	dir := t.TempDir()
	mgr := registry.New(map[string]string{"default": dir}, "default")
	token, err := mgr.CreateFile(registry.CreateParams{FileName: "f.bin", ChunkSize: 8192, FileSize: 8192})
	require.NoError(t, err)

	pool := client.NewPool(zap.NewNop(), 0, time.Second, time.Second, time.Second)
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i)
	}

	req := &wire.SendFileReq{MaxChainLen: 1, Offset: 0, OriginSize: uint32(len(data)), FileToken: token}
	code := HandleSendFile(context.Background(), mgr, pool, zap.NewNop(), req, data)
	require.Zero(t, code)

	require.NoError(t, mgr.CloseFile(token))
	got, err := os.ReadFile(filepath.Join(dir, "f.bin"))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestHandleSendFileChainExhausted(t *testing.T) {
	dir := t.TempDir()
	mgr := registry.New(map[string]string{"default": dir}, "default")
	token, err := mgr.CreateFile(registry.CreateParams{FileName: "g.bin", ChunkSize: 8192, FileSize: 8192})
	require.NoError(t, err)

	require.NoError(t, mgr.SetChainTargets(token, []wire.ChainTarget{
		{Host: "127.0.0.1", Port: 1, FileToken: "child-token"},
	}))

	pool := client.NewPool(zap.NewNop(), 0, time.Second, time.Second, time.Second)
	data := make([]byte, 8192)

	req := &wire.SendFileReq{MaxChainLen: 1, Offset: 0, OriginSize: uint32(len(data)), FileToken: token}
	code := HandleSendFile(context.Background(), mgr, pool, zap.NewNop(), req, data)
	require.Equal(t, wireerr.ECanceled, code)
}

func TestHandleSendFileUnknownTokenReturnsENoEnt(t *testing.T) {
	dir := t.TempDir()
	mgr := registry.New(map[string]string{"default": dir}, "default")
	pool := client.NewPool(zap.NewNop(), 0, time.Second, time.Second, time.Second)

	req := &wire.SendFileReq{MaxChainLen: 1, FileToken: "nope"}
	code := HandleSendFile(context.Background(), mgr, pool, zap.NewNop(), req, nil)
	require.Equal(t, wireerr.ENoEnt, code)
}
