package engine

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corywalker/ircframe/state"
)

// fakeServer scripts one accepted connection. Script errors surface as
// empty reads; the test side asserts on what the client's state ends up
// as, so a wedged script fails via the Connect timeout rather than a
// cross-goroutine t.Fatal.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return &fakeServer{ln: ln}
}

func (f *fakeServer) addr() ServerAddr {
	a := f.ln.Addr().(*net.TCPAddr)
	return ServerAddr{Host: "127.0.0.1", Port: a.Port}
}

func readWire(r *bufio.Reader) string {
	line, err := r.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimRight(line, "\r\n")
}

func writeWire(conn net.Conn, line string) {
	fmt.Fprintf(conn, "%s\r\n", line)
}

func TestConnectRegistrationHandshake(t *testing.T) {
	srv := newFakeServer(t)
	clientLines := make(chan []string, 1)

	go func() {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		var lines []string
		for i := 0; i < 3; i++ { // CAP LS 302, NICK, USER
			lines = append(lines, readWire(r))
		}
		writeWire(conn, "CAP * LS :multi-prefix server-time unknown-cap")
		lines = append(lines, readWire(r)) // CAP REQ
		writeWire(conn, ":irc.test CAP tester ACK :multi-prefix server-time")
		lines = append(lines, readWire(r)) // CAP END
		writeWire(conn, ":irc.test 001 tester :Welcome to the test network")
		clientLines <- lines
	}()

	n := New(Options{
		PrimaryNick: "tester",
		Ident:       "tester",
		RealName:    "Test Er",
		Servers:     []ServerAddr{srv.addr()},
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Connect(ctx))
	defer n.Disconnect("")

	lines := <-clientLines
	assert.Equal(t, "CAP LS 302", lines[0])
	assert.Equal(t, "NICK tester", lines[1])
	assert.Equal(t, "USER tester 0 * :Test Er", lines[2])
	assert.Contains(t, lines[3], "CAP REQ :")
	assert.Contains(t, lines[3], "multi-prefix")
	assert.Contains(t, lines[3], "server-time")
	assert.NotContains(t, lines[3], "unknown-cap")
	assert.Equal(t, "CAP END", lines[4])

	snap := n.State()
	self, ok := snap.SelfUser()
	require.True(t, ok)
	assert.Equal(t, "tester", self.Nick)
	assert.Contains(t, snap.EnabledCaps, "multi-prefix")
	assert.Contains(t, snap.EnabledCaps, "server-time")
	assert.Contains(t, snap.SupportedCaps, "unknown-cap")
	assert.NotContains(t, snap.EnabledCaps, "unknown-cap")
}

func TestConnectFallsBackToSecondaryNick(t *testing.T) {
	srv := newFakeServer(t)
	nickLines := make(chan []string, 1)

	go func() {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		var nicks []string
		for i := 0; i < 3; i++ {
			line := readWire(r)
			if strings.HasPrefix(line, "NICK ") {
				nicks = append(nicks, line)
			}
		}
		writeWire(conn, ":irc.test 433 * tester :Nickname is already in use")
		nicks = append(nicks, readWire(r)) // retry NICK
		writeWire(conn, "CAP * LS :")
		readWire(r) // CAP END
		writeWire(conn, ":irc.test 001 tester_ :Welcome")
		nickLines <- nicks
	}()

	n := New(Options{
		PrimaryNick: "tester",
		Ident:       "tester",
		RealName:    "Test Er",
		Servers:     []ServerAddr{srv.addr()},
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Connect(ctx))
	defer n.Disconnect("")

	nicks := <-nickLines
	assert.Equal(t, "NICK tester_", nicks[len(nicks)-1])
	self, ok := n.State().SelfUser()
	require.True(t, ok)
	assert.Equal(t, "tester_", self.Nick)
}

func TestLoopAnswersServerPing(t *testing.T) {
	srv := newFakeServer(t)
	pong := make(chan string, 1)

	go func() {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		for i := 0; i < 3; i++ {
			readWire(r)
		}
		writeWire(conn, "CAP * LS :")
		readWire(r) // CAP END
		writeWire(conn, ":irc.test 001 tester :Welcome")
		writeWire(conn, "PING :irc.test-cookie")
		pong <- readWire(r)
	}()

	n := New(Options{
		PrimaryNick: "tester",
		Ident:       "tester",
		RealName:    "Test Er",
		Servers:     []ServerAddr{srv.addr()},
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Connect(ctx))
	defer n.Disconnect("")

	select {
	case line := <-pong:
		assert.Equal(t, "PONG irc.test-cookie", line)
	case <-time.After(5 * time.Second):
		t.Fatal("no PONG before timeout")
	}
}

func TestStateFollowsInboundTraffic(t *testing.T) {
	srv := newFakeServer(t)

	go func() {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		for i := 0; i < 3; i++ {
			readWire(r)
		}
		writeWire(conn, "CAP * LS :")
		readWire(r) // CAP END
		writeWire(conn, ":irc.test 001 tester :Welcome")
		writeWire(conn, ":tester!t@127.0.0.1 JOIN #TestiNg")
		writeWire(conn, ":foo!~bar@baz/baz JOIN #TestiNg")
	}()

	n := New(Options{
		PrimaryNick: "tester",
		Ident:       "tester",
		RealName:    "Test Er",
		Servers:     []ServerAddr{srv.addr()},
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.Connect(ctx))
	defer n.Disconnect("")

	require.Eventually(t, func() bool {
		ch, ok := n.State().ChannelByName("#TestiNg")
		return ok && len(ch.Users) == 2
	}, 3*time.Second, 10*time.Millisecond)

	snap := n.State()
	foo, ok := snap.UserByNick("foo")
	require.True(t, ok)
	assert.Equal(t, "~bar", foo.Ident)
	assert.Equal(t, "baz/baz", foo.Host)
}

func TestConnectWalksServerListOnFailure(t *testing.T) {
	// First address refuses (listener closed immediately); second works.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().(*net.TCPAddr)
	require.NoError(t, dead.Close())

	srv := newFakeServer(t)
	go func() {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		for i := 0; i < 3; i++ {
			readWire(r)
		}
		writeWire(conn, "CAP * LS :")
		readWire(r)
		writeWire(conn, ":irc.test 001 tester :Welcome")
	}()

	n := New(Options{
		PrimaryNick: "tester",
		Ident:       "tester",
		RealName:    "Test Er",
		Servers: []ServerAddr{
			{Host: "127.0.0.1", Port: deadAddr.Port},
			srv.addr(),
		},
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, n.Connect(ctx))
	n.Disconnect("")
}

func TestUpdateStateClonesBeforeHandingOut(t *testing.T) {
	n := New(Options{PrimaryNick: "tester"}, nil)
	before := n.State()

	require.NoError(t, n.UpdateState(func(s state.Snapshot) (state.Snapshot, error) {
		s.SupportedCaps["batch"] = nil
		return s, nil
	}))

	assert.NotContains(t, before.SupportedCaps, "batch")
	assert.Contains(t, n.State().SupportedCaps, "batch")
}
