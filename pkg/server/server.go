// Package server implements the fcopy dispatcher: it accepts connections,
// reads framed requests, and routes them to the registry and dataplane.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"fcopy/pkg/client"
	"fcopy/pkg/dataplane"
	"fcopy/pkg/registry"
	"fcopy/pkg/wire"
	"fcopy/pkg/wireerr"

	"go.uber.org/zap"
)

// Config bundles everything Server needs that the CLI or config file
// supplies, per §6.4.
type Config struct {
	Port             int
	MaxConnections   int
	SizeLimit        uint32
	ReceiveTimeout   time.Duration
	KeepAliveTimeout time.Duration
	DirectIO         bool
	DefaultPartition string
	Partitions       map[string]string
}

// Server is one fcopy node: it owns a registry of open uploads and
// forwards chunks to chain/tree children via a connection pool.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	registry *registry.Manager
	pool     *client.Pool

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// New creates a Server. The forwarding pool is owned by the server so
// forwarded connections to children are pooled the same way the client's
// sender pools connections to its targets.
func New(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(cfg.Partitions, cfg.DefaultPartition),
		pool:     client.NewPool(logger, cfg.SizeLimit, cfg.KeepAliveTimeout, cfg.ReceiveTimeout, cfg.ReceiveTimeout),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds the configured port and begins accepting connections. Bind
// failure is fatal to the caller, per §7: the server process should exit
// non-zero rather than run without a listener.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("fcopy_server: bind :%d: %w", s.cfg.Port, err)
	}
	s.listener = ln
	s.logger.Info("listening", zap.Int("port", s.cfg.Port))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			return
		}

		s.mu.Lock()
		if s.cfg.MaxConnections > 0 && len(s.conns) >= s.cfg.MaxConnections {
			s.mu.Unlock()
			nc.Close()
			continue
		}
		s.conns[nc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(nc)
	}
}

func (s *Server) handleConn(nc net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, nc)
		s.mu.Unlock()
		nc.Close()
	}()

	ctx := context.Background()
	for {
		if s.cfg.ReceiveTimeout > 0 {
			nc.SetReadDeadline(time.Now().Add(s.cfg.ReceiveTimeout))
		}
		req, err := wire.ReadMessage(nc, s.cfg.SizeLimit)
		if err != nil {
			return
		}

		resp := s.dispatch(ctx, req)

		bufs, err := resp.Encode()
		if err != nil {
			s.logger.Error("encode response failed", zap.Error(err))
			return
		}
		if s.cfg.KeepAliveTimeout > 0 {
			nc.SetWriteDeadline(time.Now().Add(s.cfg.KeepAliveTimeout))
		}
		if _, err := bufs.WriteTo(nc); err != nil {
			return
		}
	}
}

// dispatch routes one decoded request to its handler, per §4.6: the
// response is always set, even for unrecognised commands, so a handler
// never leaves the caller without a reply.
func (s *Server) dispatch(ctx context.Context, req wire.Message) wire.Message {
	switch body := req.Body.(type) {
	case *wire.CreateFileReq:
		return s.handleCreateFile(body)
	case *wire.SendFileReq:
		return s.handleSendFile(ctx, body, req.Data)
	case *wire.CloseFileReq:
		return s.handleCloseFile(body)
	case *wire.DeleteFileReq:
		return s.handleDeleteFile(body)
	case *wire.SetChainReq:
		return s.handleSetChain(body)
	default:
		return wire.Message{Body: &wire.Unknown{}}
	}
}

func (s *Server) handleCreateFile(req *wire.CreateFileReq) wire.Message {
	token, err := s.registry.CreateFile(registry.CreateParams{
		Partition:    req.Partition,
		RelativePath: req.RelativePath,
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		ChunkSize:    req.ChunkSize,
		FilePerm:     req.FilePerm,
		DirectIO:     s.cfg.DirectIO,
	})
	if err != nil {
		return wire.Message{Error: wireerr.CodeOf(err), Body: &wire.CreateFileResp{}}
	}
	return wire.Message{Body: &wire.CreateFileResp{FileToken: token}}
}

func (s *Server) handleSendFile(ctx context.Context, req *wire.SendFileReq, data []byte) wire.Message {
	code := dataplane.HandleSendFile(ctx, s.registry, s.pool, s.logger, req, data)
	return wire.Message{Error: code, Body: &wire.SendFileResp{}}
}

func (s *Server) handleSetChain(req *wire.SetChainReq) wire.Message {
	err := s.registry.SetChainTargets(req.FileToken, req.Targets)
	return wire.Message{Error: wireerr.CodeOf(err), Body: &wire.SetChainResp{}}
}

func (s *Server) handleDeleteFile(req *wire.DeleteFileReq) wire.Message {
	return wire.Message{Error: wireerr.ENoSys, Body: &wire.DeleteFileResp{}}
}

// handleCloseFile implements §4.6's eager/deferred specialisation:
// wait_close=true closes synchronously so the caller observes completion;
// wait_close=false replies immediately with existence alone and closes in
// the background.
func (s *Server) handleCloseFile(req *wire.CloseFileReq) wire.Message {
	if req.WaitClose {
		err := s.registry.CloseFile(req.FileToken)
		return wire.Message{Error: wireerr.CodeOf(err), Body: &wire.CloseFileResp{}}
	}

	if !s.registry.HasFile(req.FileToken) {
		return wire.Message{Error: wireerr.ENoEnt, Body: &wire.CloseFileResp{}}
	}
	token := req.FileToken
	go func() {
		if err := s.registry.CloseFile(token); err != nil {
			s.logger.Warn("deferred close failed", zap.String("token", token), zap.Error(err))
		}
	}()
	return wire.Message{Body: &wire.CloseFileResp{}}
}

// Stop closes the listener and every tracked connection, then waits for
// in-flight handlers to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	if s.listener != nil {
		s.listener.Close()
	}
	for nc := range s.conns {
		nc.Close()
	}
	s.mu.Unlock()

	s.pool.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
