package netio

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/l1jgo/simcore/internal/tick"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCommandLimiterDropsExcessCommands(t *testing.T) {
	l := NewCommandLimiter(1, 2)
	require.True(t, l.Allow(1))
	require.True(t, l.Allow(1))
	require.False(t, l.Allow(1), "burst exhausted, third call in the same instant must be denied")

	// A different session has its own bucket.
	require.True(t, l.Allow(2))
}

func TestConnLimiterEnforcesTotalAndPerIPCaps(t *testing.T) {
	l := NewConnLimiter(2, 1)
	require.True(t, l.Admit("10.0.0.1"))
	require.False(t, l.Admit("10.0.0.1"), "per-IP cap of 1 already reached")
	require.True(t, l.Admit("10.0.0.2"))
	require.False(t, l.Admit("10.0.0.3"), "total cap of 2 already reached")

	l.Release("10.0.0.1")
	require.True(t, l.Admit("10.0.0.1"))
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTransportRoundTripsConnectInputAndOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.CommandsPerSec = 1000
	cfg.CommandBurst = 1000

	tr, err := Listen(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Serve(ctx) }()

	conn := dial(t, tr.Addr())
	reader := bufio.NewReader(conn)

	_, err = conn.Write([]byte("look\n"))
	require.NoError(t, err)

	var msgs []tick.Inbound
	require.Eventually(t, func() bool {
		msgs = append(msgs, tr.Drain()...)
		return len(msgs) >= 2
	}, time.Second, time.Millisecond)

	require.Equal(t, tick.InNewConnection, msgs[0].Kind)
	require.Equal(t, tick.InPlayerInput, msgs[1].Kind)
	require.Equal(t, "look", msgs[1].Line)
	require.Equal(t, msgs[0].SessionID, msgs[1].SessionID)

	sessionID := msgs[0].SessionID
	tr.Enqueue(tick.Outbound{SessionID: sessionID, Text: "You see a room."})

	reply, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "You see a room.\n", reply)

	tr.Enqueue(tick.Outbound{SessionID: sessionID, Text: "Goodbye.", Disconnect: true})
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs = msgs[:0]
		msgs = append(msgs, tr.Drain()...)
		for _, m := range msgs {
			if m.Kind == tick.InDisconnected && m.SessionID == sessionID {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTransportRejectsConnectionsOverAdmissionCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.MaxConnsTotal = 1

	tr, err := Listen(cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Serve(ctx)

	dial(t, tr.Addr())
	require.Eventually(t, func() bool { return len(tr.Drain()) >= 1 }, time.Second, time.Millisecond)

	second, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(time.Second))
	_, err = second.Read(buf)
	require.Error(t, err, "rejected connection must be closed by the server")
}
