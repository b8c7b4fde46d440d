// Package netio is the cooperative network scheduler of spec.md §5: one
// task per connection, communicating with the tick thread exclusively
// through the bounded NetIn/NetOut queues (here, tick.Inbound/tick.Outbound
// channels) rather than shared state. It is a minimal TCP transport demo,
// not a production-hardened one (spec.md's Non-goals) — framing and auth
// hardening belong to a real deployment.
//
// Grounded on the teacher's internal/net: Server.AcceptLoop's
// accept-then-hand-off shape, and Session's dedicated reader/writer
// goroutines per connection communicating through sized channels. The
// L1J-specific cipher and binary packet framing (internal/net/cipher.go,
// internal/net/codec.go, internal/net/packet) do not apply here — this
// core's wire protocol is newline-delimited UTF-8 text (MUD commands) or
// JSON (grid client messages), so framing is just a line read/write.
package netio

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/simcore/internal/tick"
)

// Config carries the transport's admission and throttling parameters.
type Config struct {
	BindAddr       string
	InboxSize      int
	OutboxSize     int
	MaxConnsTotal  int
	MaxConnsPerIP  int
	CommandsPerSec float64
	CommandBurst   int
	WriteTimeout   time.Duration
}

// DefaultConfig returns conservative defaults matching spec.md §5's
// 20 commands/sec per-connection throttle.
func DefaultConfig() Config {
	return Config{
		BindAddr:       ":4000",
		InboxSize:      1024,
		OutboxSize:     256,
		MaxConnsTotal:  2000,
		MaxConnsPerIP:  8,
		CommandsPerSec: 20,
		CommandBurst:   20,
		WriteTimeout:   10 * time.Second,
	}
}

// Transport accepts TCP connections and exchanges framed text with the
// tick loop via the bounded queues spec.md §5 names NetIn/NetOut. It
// implements tick.Inbox and tick.Outbox directly.
type Transport struct {
	cfg Config
	log *zap.Logger

	listener net.Listener
	nextID   atomic.Uint64

	cmdLimiter  *CommandLimiter
	connLimiter *ConnLimiter

	in chan tick.Inbound

	mu    sync.Mutex
	conns map[uint64]*connHandle
}

type connHandle struct {
	id  uint64
	ip  string
	c   net.Conn
	out chan tick.Outbound

	closeCh   chan struct{}
	closeOnce sync.Once
}

// Listen opens the TCP listener. Serve must be called to start accepting.
func Listen(cfg Config, log *zap.Logger) (*Transport, error) {
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("netio: listen %s: %w", cfg.BindAddr, err)
	}
	return &Transport{
		cfg:         cfg,
		log:         log,
		listener:    ln,
		cmdLimiter:  NewCommandLimiter(cfg.CommandsPerSec, cfg.CommandBurst),
		connLimiter: NewConnLimiter(cfg.MaxConnsTotal, cfg.MaxConnsPerIP),
		in:          make(chan tick.Inbound, cfg.InboxSize),
		conns:       make(map[uint64]*connHandle),
	}, nil
}

// Addr returns the listener's bound address.
func (t *Transport) Addr() net.Addr { return t.listener.Addr() }

// Serve runs the accept loop until ctx is cancelled, then closes the
// listener and every live connection — the "network tasks observe the
// same [shutdown] signal" half of spec.md §5's cancellation policy.
func (t *Transport) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return t.listener.Close()
	})

	g.Go(func() error {
		for {
			c, err := t.listener.Accept()
			if err != nil {
				select {
				case <-gctx.Done():
					return nil
				default:
					return fmt.Errorf("netio: accept: %w", err)
				}
			}
			t.admit(gctx, c)
		}
	})

	err := g.Wait()
	t.closeAll()
	return err
}

func (t *Transport) admit(ctx context.Context, c net.Conn) {
	ip, _, _ := net.SplitHostPort(c.RemoteAddr().String())
	if !t.connLimiter.Admit(ip) {
		t.log.Warn("connection rejected, over admission cap", zap.String("ip", ip))
		c.Close()
		return
	}

	id := t.nextID.Add(1)
	ch := &connHandle{id: id, ip: ip, c: c, out: make(chan tick.Outbound, t.cfg.OutboxSize), closeCh: make(chan struct{})}

	t.mu.Lock()
	t.conns[id] = ch
	t.mu.Unlock()

	t.in <- tick.Inbound{Kind: tick.InNewConnection, SessionID: id}
	t.log.Info("connection accepted", zap.Uint64("session", id), zap.String("ip", ip))

	go t.readLoop(ch)
	go t.writeLoop(ch)
}

func (t *Transport) readLoop(ch *connHandle) {
	defer t.drop(ch)

	scanner := bufio.NewScanner(ch.c)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if !t.cmdLimiter.Allow(ch.id) {
			continue // excess input dropped at the network layer, per spec.md §5
		}
		select {
		case t.in <- tick.Inbound{Kind: tick.InPlayerInput, SessionID: ch.id, Line: line}:
		case <-ch.closeCh:
			return
		}
	}
}

func (t *Transport) writeLoop(ch *connHandle) {
	for {
		select {
		case out := <-ch.out:
			ch.c.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if _, err := fmt.Fprintln(ch.c, out.Text); err != nil {
				t.drop(ch)
				return
			}
			if out.Disconnect {
				t.drop(ch)
				return
			}
		case <-ch.closeCh:
			// Drain queued output before closing, per spec.md §5's shutdown
			// policy for network tasks.
			for {
				select {
				case out := <-ch.out:
					fmt.Fprintln(ch.c, out.Text)
				default:
					ch.c.Close()
					return
				}
			}
		}
	}
}

func (t *Transport) drop(ch *connHandle) {
	ch.closeOnce.Do(func() {
		close(ch.closeCh)
		ch.c.Close()
		t.connLimiter.Release(ch.ip)
		t.cmdLimiter.Forget(ch.id)

		t.mu.Lock()
		delete(t.conns, ch.id)
		t.mu.Unlock()

		select {
		case t.in <- tick.Inbound{Kind: tick.InDisconnected, SessionID: ch.id}:
		default:
		}
	})
}

func (t *Transport) closeAll() {
	t.mu.Lock()
	handles := make([]*connHandle, 0, len(t.conns))
	for _, ch := range t.conns {
		handles = append(handles, ch)
	}
	t.mu.Unlock()
	for _, ch := range handles {
		t.drop(ch)
	}
}

// Drain implements tick.Inbox: every queued NetIn message since the last
// call, without blocking.
func (t *Transport) Drain() []tick.Inbound {
	var out []tick.Inbound
	for {
		select {
		case msg := <-t.in:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Enqueue implements tick.Outbox: route one NetOut message to its
// session's writer goroutine. Silently dropped if the session already
// disconnected; if its output queue is full, the message is dropped and
// the whole connection is closed with a warning (a slow reader never
// blocks the tick thread).
func (t *Transport) Enqueue(o tick.Outbound) {
	t.mu.Lock()
	ch, ok := t.conns[o.SessionID]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch.out <- o:
	default:
		t.log.Warn("outbox full, dropping slow connection", zap.Uint64("session", o.SessionID))
		t.drop(ch)
	}
}

var (
	_ tick.Inbox  = (*Transport)(nil)
	_ tick.Outbox = (*Transport)(nil)
)
