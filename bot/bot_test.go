package bot

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

	"github.com/corywalker/ircframe/engine"
	"github.com/corywalker/ircframe/message"
)

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

// serveRegistration walks one accepted connection through a minimal
// handshake: no advertised caps, straight to 001.
func serveRegistration(conn net.Conn, r *bufio.Reader, nick string) {
	for i := 0; i < 3; i++ { // CAP LS 302, NICK, USER
		readWire(r)
	}
	writeWire(conn, "CAP * LS :")
	readWire(r) // CAP END
	writeWire(conn, ":irc.test 001 "+nick+" :Welcome")
}

func newConnectedBot(t *testing.T, script func(conn net.Conn, r *bufio.Reader)) *Bot {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	addr := ln.Addr().(*net.TCPAddr)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		serveRegistration(conn, r, "tester")
		script(conn, r)
	}()

	b := New(Options{
		Engine: engine.Options{
			PrimaryNick: "tester",
			Ident:       "tester",
			RealName:    "Test Er",
			Servers:     []engine.ServerAddr{{Host: "127.0.0.1", Port: addr.Port}},
		},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Network().Connect(ctx))
	t.Cleanup(func() { b.Network().Disconnect("") })
	return b
}

func TestJoinChannelSucceedsOnSelfJoinEcho(t *testing.T) {
	b := newConnectedBot(t, func(conn net.Conn, r *bufio.Reader) {
		readWire(r) // JOIN #ok
		writeWire(conn, ":tester!t@127.0.0.1 JOIN #ok")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.JoinChannel(ctx, "#ok", ""))

	_, ok := b.Network().State().ChannelByName("#ok")
	assert.True(t, ok)
}

func TestJoinChannelFailureNumeric(t *testing.T) {
	b := newConnectedBot(t, func(conn net.Conn, r *bufio.Reader) {
		readWire(r) // JOIN #x
		writeWire(conn, ":irc.test 475 tester #x :need key")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := b.JoinChannel(ctx, "#x", "")
	require.Error(t, err)
	var nerr *engine.NumericError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "475", nerr.Numeric)
	assert.Equal(t, "need key", nerr.Detail)
}

func TestPartChannelFailureNumeric(t *testing.T) {
	b := newConnectedBot(t, func(conn net.Conn, r *bufio.Reader) {
		readWire(r) // PART #x
		writeWire(conn, ":irc.test 442 tester #x :You're not on that channel")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := b.PartChannel(ctx, "#x", "")
	var nerr *engine.NumericError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "442", nerr.Numeric)
}

func TestSendMessageSplitsLongText(t *testing.T) {
	text := strings.Repeat("all work and no play makes bots dull ", 40)

	payloads := make(chan []string, 1)
	b := newConnectedBot(t, func(conn net.Conn, r *bufio.Reader) {
		var lines []string
		total := 0
		for total < len(text) {
			line := readWire(r)
			if line == "" {
				break
			}
			lines = append(lines, line)
			cmd, err := message.Parse(line)
			if err != nil {
				break
			}
			total += len(cmd.Arg(len(cmd.Args) - 1))
		}
		payloads <- lines
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.SendMessage(ctx, "#c", text, nil))

	var lines []string
	select {
	case lines = <-payloads:
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the full text")
	}

	require.Greater(t, len(lines), 1, "text longer than one line must split")
	var rebuilt strings.Builder
	for _, line := range lines {
		assert.LessOrEqual(t, len(line)+2, message.MaxLineBytes)
		cmd, err := message.Parse(line)
		require.NoError(t, err, line)
		assert.Equal(t, "PRIVMSG", cmd.Verb)
		assert.Equal(t, "#c", cmd.Arg(0))
		rebuilt.WriteString(cmd.Arg(len(cmd.Args) - 1))
	}
	assert.Equal(t, text, rebuilt.String())
}
