// Package client implements the request/connection-pool primitive shared
// by the sending CLI and the server's own forwarding path, plus the Sender
// that drives one file's upload.
package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"fcopy/pkg/wire"

	"go.uber.org/zap"
)

// Target addresses one destination node.
type Target struct {
	Host string
	Port uint16
}

func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

func (t Target) String() string { return t.Addr() }

type conn struct {
	nc   net.Conn
	addr string
}

// Pool is a free-list connection pool keyed by target address. Unlike a
// single shared connection per address, it hands each caller an exclusive
// connection so that concurrent requests to the same target run over
// distinct TCP streams instead of queueing behind one another — required
// because the wire protocol carries no request ID to demultiplex a
// pipelined connection.
type Pool struct {
	mu   sync.Mutex
	free map[string][]*conn

	dialTimeout time.Duration
	sendTimeout time.Duration
	recvTimeout time.Duration
	sizeLimit   uint32
	logger      *zap.Logger
}

// NewPool creates a connection pool. sizeLimit bounds the framed message
// size accepted from peers (0 uses wire.DefaultSizeLimit).
func NewPool(logger *zap.Logger, sizeLimit uint32, dialTimeout, sendTimeout, recvTimeout time.Duration) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		free:        make(map[string][]*conn),
		dialTimeout: dialTimeout,
		sendTimeout: sendTimeout,
		recvTimeout: recvTimeout,
		sizeLimit:   sizeLimit,
		logger:      logger,
	}
}

func (p *Pool) acquire(ctx context.Context, target Target) (*conn, error) {
	addr := target.Addr()

	p.mu.Lock()
	if lst := p.free[addr]; len(lst) > 0 {
		c := lst[len(lst)-1]
		p.free[addr] = lst[:len(lst)-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	d := net.Dialer{Timeout: p.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &conn{nc: nc, addr: addr}, nil
}

func (p *Pool) release(c *conn, healthy bool) {
	if !healthy {
		c.nc.Close()
		return
	}
	p.mu.Lock()
	p.free[c.addr] = append(p.free[c.addr], c)
	p.mu.Unlock()
}

// CloseAll closes every idle pooled connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, lst := range p.free {
		for _, c := range lst {
			c.nc.Close()
		}
	}
	p.free = make(map[string][]*conn)
}

// Request sends msg to target and awaits its response, per §4.7: it
// returns a non-nil error for transport failure (dial/write/read/decode),
// and an error wrapping wire.ErrBadMessage, alongside the decoded Message,
// when the response command does not match the request. Otherwise it
// returns the decoded Message, whose Error field the caller interprets as
// the application-level result.
func (p *Pool) Request(ctx context.Context, target Target, msg wire.Message) (wire.Message, error) {
	c, err := p.acquire(ctx, target)
	if err != nil {
		return wire.Message{}, err
	}

	reqCmd := wire.CmdUnknown
	if msg.Body != nil {
		reqCmd = msg.Body.Command()
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		c.nc.SetDeadline(deadline)
	} else if p.sendTimeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(p.sendTimeout))
	}

	bufs, err := msg.Encode()
	if err != nil {
		p.release(c, true)
		return wire.Message{}, fmt.Errorf("failed to encode %s: %w", reqCmd, err)
	}
	if _, err := bufs.WriteTo(c.nc); err != nil {
		p.release(c, false)
		return wire.Message{}, fmt.Errorf("failed to send %s to %s: %w", reqCmd, target.Addr(), err)
	}

	if !hasDeadline && p.recvTimeout > 0 {
		c.nc.SetReadDeadline(time.Now().Add(p.recvTimeout))
	}

	resp, err := wire.ReadMessage(c.nc, p.sizeLimit)
	if err != nil {
		p.release(c, false)
		return wire.Message{}, fmt.Errorf("failed to read %s response from %s: %w", reqCmd, target.Addr(), err)
	}

	p.release(c, true)

	if resp.Body != nil {
		want := reqCmd | wire.RespBit
		if resp.Body.Command() != want {
			return resp, fmt.Errorf("unexpected response command %s (want %s) from %s: %w",
				resp.Body.Command(), want, target.Addr(), wire.ErrBadMessage)
		}
	}
	return resp, nil
}
