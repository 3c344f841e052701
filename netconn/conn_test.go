package netconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDialPlaintextSendReceive(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		srv, err := ln.Accept()
		if err != nil {
			return
		}
		defer srv.Close()
		buf := make([]byte, 64)
		n, err := srv.Read(buf)
		require.NoError(t, err)
		_, err = srv.Write(buf[:n])
		require.NoError(t, err)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := Dial(ctx, Config{Host: "127.0.0.1", Port: addr.Port})
	require.NoError(t, err)
	defer conn.Disconnect()

	require.NoError(t, conn.Send([]byte("PING :abc\r\n")))

	line, err := conn.ReceiveLine()
	require.NoError(t, err)
	require.Equal(t, "PING :abc", line)

	<-serverDone
}

func TestDialConnectionRefusedIsRetriable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = Dial(ctx, Config{Host: "127.0.0.1", Port: addr.Port})
	require.Error(t, err)
}
