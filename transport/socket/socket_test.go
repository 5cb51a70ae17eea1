package socket

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// serve accepts one connection at a time and answers every line with handle's result.
// An empty result sends nothing back.
func serve(t *testing.T, handle func(line string) string) (host string, port int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					reply := handle(strings.TrimSuffix(line, "\n"))
					if reply == "\x04" {
						return
					}
					if reply != "" {
						_, _ = conn.Write([]byte(reply))
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)

	return addr.IP.String(), addr.Port
}

func newTransport(t *testing.T, host string, port int, opts ...Option) *Transport {
	t.Helper()

	tr, err := New(host, port, opts...)
	require.NoError(t, err)
	require.NoError(t, tr.Open())
	t.Cleanup(func() { tr.Close() })

	return tr
}

func TestTransport_WriteRead(t *testing.T) {
	require := require.New(t)
	host, port := serve(t, func(line string) string {
		return "1|" + line + "\n"
	})

	tr := newTransport(t, host, port)
	require.True(tr.IsOpen())

	require.NoError(tr.Write("power?"))
	lines, err := tr.Read(1)
	require.NoError(err)
	require.Equal([]string{"1|power?"}, lines)

	lines, err = tr.Read(0)
	require.NoError(err)
	require.Empty(lines)
}

func TestTransport_MultiLineReply(t *testing.T) {
	require := require.New(t)
	host, port := serve(t, func(line string) string {
		return "a\nb\nc\n"
	})

	tr := newTransport(t, host, port)

	require.NoError(tr.Write("x"))
	lines, err := tr.Read(2)
	require.NoError(err)
	require.Equal([]string{"a", "b"}, lines)

	// the third line stays buffered for the next read
	lines, err = tr.Read(1)
	require.NoError(err)
	require.Equal([]string{"c"}, lines)
}

func TestTransport_Terminations(t *testing.T) {
	require := require.New(t)
	host, port := serve(t, func(line string) string {
		return strings.TrimSuffix(line, ";") + "\r\n"
	})

	tr := newTransport(t, host, port, WithReadTermination("\r\n"), WithWriteTermination(";\n"))

	require.NoError(tr.Write("idn?"))
	lines, err := tr.Read(1)
	require.NoError(err)
	require.Equal([]string{"idn?"}, lines)
}

func TestTransport_Timeout(t *testing.T) {
	require := require.New(t)
	host, port := serve(t, func(line string) string {
		if line == "one" {
			return "only\n"
		}
		return ""
	})

	tr := newTransport(t, host, port, WithTimeout(50*time.Millisecond))

	require.NoError(tr.Write("one"))
	start := time.Now()
	_, err := tr.Read(2)
	require.ErrorIs(err, device.ErrTimeout)
	require.Less(time.Since(start), time.Second)
	require.True(tr.IsOpen())

	// the line that did arrive is kept
	lines, err := tr.Read(1)
	require.NoError(err)
	require.Equal([]string{"only"}, lines)
}

func TestTransport_Flush(t *testing.T) {
	require := require.New(t)
	host, port := serve(t, func(line string) string {
		switch line {
		case "noise":
			return "stale1\nstale2\npart"
		case "":
			return ""
		default:
			return "fresh\n"
		}
	})

	tr := newTransport(t, host, port)

	require.NoError(tr.Write("noise"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(tr.Flush())

	require.NoError(tr.Write("cmd"))
	lines, err := tr.Read(1)
	require.NoError(err)
	require.Equal([]string{"fresh"}, lines)
}

func TestTransport_RemoteClose(t *testing.T) {
	require := require.New(t)
	host, port := serve(t, func(line string) string {
		return "\x04"
	})

	tr := newTransport(t, host, port)

	require.NoError(tr.Write("bye"))
	_, err := tr.Read(1)
	require.Error(err)
	require.False(errors.Is(err, device.ErrTimeout))
	require.False(tr.IsOpen())

	require.ErrorIs(tr.Write("again"), device.ErrNotOpen)
	_, err = tr.Read(1)
	require.ErrorIs(err, device.ErrNotOpen)
	require.ErrorIs(tr.Flush(), device.ErrNotOpen)

	require.NoError(tr.Reopen())
	require.True(tr.IsOpen())
}

func TestTransport_DialFailure(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr, err := New("127.0.0.1", port, WithTimeout(100*time.Millisecond))
	require.NoError(err)
	require.Error(tr.Open())
	require.False(tr.IsOpen())
	require.NoError(tr.Close())
}

func TestTransport_Options(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero timeout", WithTimeout(0)},
		{"huge timeout", WithTimeout(2 * time.Hour)},
		{"zero buffer", WithBufferSize(0)},
		{"empty read termination", WithReadTermination("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("localhost", 1, tt.opt)
			require.ErrorIs(t, err, device.ErrConfiguration)
		})
	}

	_, err := New("localhost", 70000)
	require.ErrorIs(t, err, device.ErrConfiguration)

	tr, err := New("localhost", 5000, WithWriteTermination(""), WithKeepAlive(-1), WithLogger(nil))
	require.NoError(t, err)
	require.Equal(t, "localhost:5000", tr.Address())
}

func TestTransport_WithDevice(t *testing.T) {
	require := require.New(t)
	host, port := serve(t, func(line string) string {
		return "1|" + strings.ToUpper(line) + "\n"
	})

	tr, err := New(host, port)
	require.NoError(err)

	dev, err := device.New(context.Background(), tr,
		device.WithName("echo"),
		device.WithAttemptDelay(0),
		device.WithReconnectDelay(0),
	)
	require.NoError(err)
	defer dev.Close()

	reply, err := dev.Query("laser:power?")
	require.NoError(err)
	require.Equal("1|LASER:POWER?", reply)

	require.NoError(dev.Close())
	require.False(tr.IsOpen())
}
