// Package dataplane implements the server-side handling of SEND_FILE_REQ:
// writing the local chunk and forwarding it to every chain child
// concurrently, per §4.4.
package dataplane

import (
	"context"
	"sync"

	"fcopy/pkg/client"
	"fcopy/pkg/registry"
	"fcopy/pkg/wire"
	"fcopy/pkg/wireerr"

	"go.uber.org/zap"
)

// HandleSendFile writes req's chunk to the local file and forwards it to
// every chain child concurrently, returning the wire error code for the
// reply. A non-zero child error wins over a local write error, matching
// the original's child-failure-takes-priority ordering.
func HandleSendFile(ctx context.Context, mgr *registry.Manager, pool *client.Pool, logger *zap.Logger, req *wire.SendFileReq, data []byte) int16 {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, children, err := mgr.GetFD(req.FileToken)
	if err != nil {
		return wireerr.CodeOf(err)
	}

	if req.MaxChainLen <= 1 && len(children) > 0 {
		return wireerr.ECanceled
	}

	var (
		wg         sync.WaitGroup
		writeErr   int16
		forwardErr int16
		mu         sync.Mutex
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if code := writeChunk(f, req, data); code != 0 {
			mu.Lock()
			writeErr = code
			mu.Unlock()
		}
	}()

	if len(children) > 0 {
		wg.Add(len(children))
		for _, child := range children {
			child := child
			go func() {
				defer wg.Done()
				code := forwardChunk(ctx, pool, child, req, data)
				if code != 0 {
					mu.Lock()
					if forwardErr == 0 {
						forwardErr = code
					}
					mu.Unlock()
					logger.Warn("forward chunk failed",
						zap.String("child", child.Host), zap.Int16("code", code))
				}
			}()
		}
	}

	wg.Wait()

	if forwardErr != 0 {
		return forwardErr
	}
	return writeErr
}

func writeChunk(f fileWriter, req *wire.SendFileReq, data []byte) int16 {
	padded := wire.PadToChunkBase(data)
	if _, err := f.WriteAt(padded, int64(req.Offset)); err != nil {
		return wireerr.CodeOf(err)
	}
	return 0
}

func forwardChunk(ctx context.Context, pool *client.Pool, target wire.ChainTarget, req *wire.SendFileReq, data []byte) int16 {
	childReq := &wire.SendFileReq{
		MaxChainLen:  req.MaxChainLen - 1,
		CompressType: req.CompressType,
		OriginSize:   req.OriginSize,
		Crc32:        req.Crc32,
		Offset:       req.Offset,
		FileToken:    target.FileToken,
	}
	t := client.Target{Host: target.Host, Port: target.Port}
	resp, err := pool.Request(ctx, t, wire.Message{Body: childReq, Data: data})
	if err != nil {
		return wireerr.EIO
	}
	return resp.Error
}

// fileWriter is the minimal *os.File surface dataplane needs, so tests can
// substitute a fake.
type fileWriter interface {
	WriteAt(b []byte, off int64) (int, error)
}
