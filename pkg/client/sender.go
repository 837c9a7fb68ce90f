package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"fcopy/pkg/ratelimit"
	"fcopy/pkg/topology"
	"fcopy/pkg/wire"
	"fcopy/pkg/wireerr"

	"go.uber.org/zap"
)

const (
	minParallel = 1
	maxParallel = 900
)

// SendParams configures one file's upload, per §4.5.
type SendParams struct {
	Targets    []Target
	Partition  string
	Parallel   int
	ChunkSize  uint32
	SpeedLimit int64 // bytes/sec, 0 disables
	WaitClose  bool
	DirectIO   bool
	SendMethod topology.Method
}

func clampParallel(n int) int {
	if n < minParallel {
		return minParallel
	}
	if n > maxParallel {
		return maxParallel
	}
	return n
}

// TargetResult records the outcome of CREATE_FILE at one target.
type TargetResult struct {
	Target Target
	Token  string
}

// Result summarises a completed (or failed) upload.
type Result struct {
	BytesSent int64
	Elapsed   time.Duration
	Targets   []TargetResult
}

// Sender drives one file through open -> create -> topology -> send ->
// close, per §4.5.
type Sender struct {
	pool   *Pool
	logger *zap.Logger
}

// NewSender wraps a connection pool with the per-file send sequence.
func NewSender(pool *Pool, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{pool: pool, logger: logger}
}

// SendFile uploads the local file at path to every target in params,
// returning the send-phase error if one occurred, else the close-phase
// error, else nil.
func (s *Sender) SendFile(ctx context.Context, path string, params SendParams) (Result, error) {
	if len(params.Targets) == 0 {
		return Result{}, fmt.Errorf("send_file: no targets specified")
	}
	params.Parallel = clampParallel(params.Parallel)

	f, err := openForRead(path, params.DirectIO)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	fileSize := uint64(info.Size())

	tokens, createErr := s.createAll(ctx, path, fileSize, params)
	result := s.snapshotTargets(params.Targets, tokens)
	if createErr != nil {
		_ = s.closeAll(ctx, params.Targets, tokens, params.WaitClose)
		return result, createErr
	}

	if err := s.installTopology(ctx, params, tokens); err != nil {
		_ = s.closeAll(ctx, params.Targets, tokens, params.WaitClose)
		return result, err
	}

	start := time.Now()
	sendErr := s.send(ctx, f, fileSize, params, tokens[0])
	elapsed := time.Since(start)
	result.Elapsed = elapsed

	closeErr := s.closeAll(ctx, params.Targets, tokens, params.WaitClose)

	if sendErr != nil {
		return result, sendErr
	}
	if closeErr != nil {
		return result, closeErr
	}

	result.BytesSent = int64(fileSize)
	return result, nil
}

func (s *Sender) snapshotTargets(targets []Target, tokens []string) Result {
	r := Result{Targets: make([]TargetResult, len(targets))}
	for i, t := range targets {
		tok := ""
		if i < len(tokens) {
			tok = tokens[i]
		}
		r.Targets[i] = TargetResult{Target: t, Token: tok}
	}
	return r
}

func openForRead(path string, directIO bool) (*os.File, error) {
	flags := os.O_RDONLY
	if directIO {
		flags |= syscall.O_DIRECT
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// createAll issues CREATE_FILE_REQ to every target in order, collecting
// tokens. A failure anywhere returns the tokens obtained so far so the
// caller can best-effort close them.
func (s *Sender) createAll(ctx context.Context, localPath string, fileSize uint64, p SendParams) ([]string, error) {
	tokens := make([]string, len(p.Targets))
	fileName := filepath.Base(localPath)

	for i, t := range p.Targets {
		req := &wire.CreateFileReq{
			ChunkSize: p.ChunkSize,
			FileSize:  fileSize,
			Partition: p.Partition,
			FileName:  fileName,
		}
		resp, err := s.pool.Request(ctx, t, wire.Message{Body: req})
		if err != nil {
			return tokens, fmt.Errorf("create_file at %s: %w", t.Addr(), err)
		}
		body, ok := resp.Body.(*wire.CreateFileResp)
		if !ok {
			return tokens, fmt.Errorf("create_file at %s: %w", t.Addr(), wire.ErrBadMessage)
		}
		if resp.Error != 0 {
			return tokens, fmt.Errorf("create_file at %s: %w", t.Addr(), wireerr.New(resp.Error))
		}
		tokens[i] = body.FileToken
		s.logger.Debug("create_file", zap.String("target", t.Addr()), zap.String("token", body.FileToken))
	}
	return tokens, nil
}

// installTopology issues SET_CHAIN_REQ at every non-leaf node. Per the
// design note, a failure here aborts setup directly to the close pass:
// nodes that never received SET_CHAIN keep empty chain targets and are
// harmless.
func (s *Sender) installTopology(ctx context.Context, p SendParams, tokens []string) error {
	edges := topology.Build(p.SendMethod, len(p.Targets))
	for _, e := range edges {
		children := make([]wire.ChainTarget, len(e.Children))
		for i, ci := range e.Children {
			children[i] = wire.ChainTarget{
				Host:      p.Targets[ci].Host,
				Port:      p.Targets[ci].Port,
				FileToken: tokens[ci],
			}
		}
		req := &wire.SetChainReq{FileToken: tokens[e.ParentIndex], Targets: children}
		target := p.Targets[e.ParentIndex]
		resp, err := s.pool.Request(ctx, target, wire.Message{Body: req})
		if err != nil {
			return fmt.Errorf("set_chain at %s: %w", target.Addr(), err)
		}
		if resp.Error != 0 {
			return fmt.Errorf("set_chain at %s: %w", target.Addr(), wireerr.New(resp.Error))
		}
		s.logger.Debug("set_chain", zap.String("target", target.Addr()), zap.Int("children", len(children)))
	}
	return nil
}

// send spawns params.Parallel workers sharing a chunked cursor over the
// file, each streaming its chunks to targets[0] until the file is
// exhausted or a worker observes a non-zero error.
func (s *Sender) send(ctx context.Context, f *os.File, fileSize uint64, p SendParams, rootToken string) error {
	var (
		mu        sync.Mutex
		curOffset uint64
		errCode   int32
	)

	var limiter *ratelimit.Bucket
	if p.SpeedLimit > 0 {
		limiter = ratelimit.NewBucket(p.SpeedLimit)
	}

	root := p.Targets[0]

	worker := func() error {
		buf := wire.AlignedBuffer(int(p.ChunkSize))
		for {
			if atomic.LoadInt32(&errCode) != 0 {
				return nil
			}

			mu.Lock()
			if curOffset >= fileSize {
				mu.Unlock()
				return nil
			}
			offset := curOffset
			curOffset += uint64(p.ChunkSize)
			mu.Unlock()

			if limiter != nil {
				if err := limiter.WaitN(ctx, len(buf)); err != nil {
					atomic.CompareAndSwapInt32(&errCode, 0, int32(wireerr.ECanceled))
					return nil
				}
			}

			n, err := f.ReadAt(buf, int64(offset))
			if err != nil && err != io.EOF {
				atomic.CompareAndSwapInt32(&errCode, 0, int32(wireerr.CodeOf(err)))
				return nil
			}

			req := &wire.SendFileReq{
				MaxChainLen: uint16(len(p.Targets)),
				OriginSize:  uint32(n),
				Offset:      offset,
				FileToken:   rootToken,
			}
			resp, rerr := s.pool.Request(ctx, root, wire.Message{Body: req, Data: buf[:n]})
			if rerr != nil {
				atomic.CompareAndSwapInt32(&errCode, 0, int32(wireerr.EIO))
				return nil
			}
			if resp.Error != 0 {
				atomic.CompareAndSwapInt32(&errCode, 0, int32(resp.Error))
				return nil
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(p.Parallel)
	for i := 0; i < p.Parallel; i++ {
		go func() {
			defer wg.Done()
			_ = worker()
		}()
	}
	wg.Wait()

	if code := atomic.LoadInt32(&errCode); code != 0 {
		return fmt.Errorf("send_file: %w", wireerr.New(int16(code)))
	}
	return nil
}

// closeAll issues CLOSE_FILE_REQ to every target with a non-empty token,
// sequentially, preserving the first error but always attempting every
// target so resources are released everywhere.
func (s *Sender) closeAll(ctx context.Context, targets []Target, tokens []string, waitClose bool) error {
	var first error
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		req := &wire.CloseFileReq{WaitClose: waitClose, FileToken: tok}
		resp, err := s.pool.Request(ctx, targets[i], wire.Message{Body: req})
		if err != nil {
			if first == nil {
				first = fmt.Errorf("close_file at %s: %w", targets[i].Addr(), err)
			}
			continue
		}
		if resp.Error != 0 {
			if first == nil {
				first = fmt.Errorf("close_file at %s: %w", targets[i].Addr(), wireerr.New(resp.Error))
			}
			continue
		}
		tokens[i] = ""
	}
	return first
}
