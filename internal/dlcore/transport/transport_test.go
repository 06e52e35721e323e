package transport

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

func TestFactory_DialDirect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Write([]byte("hi"))
			conn.Close()
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port := mustAtoi(t, portStr)

	f := &Factory{ConnectTimeout: time.Second}
	conn, err := f.Open(host, port, false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _ := conn.Read(buf)
	assert.Equal(t, "hi", string(buf[:n]))
}

func TestFactory_DialDirect_ConnectionRefused(t *testing.T) {
	f := &Factory{ConnectTimeout: 500 * time.Millisecond}
	_, err := f.Open("127.0.0.1", 1, false) // port 1 is reserved, nothing listens
	assert.Error(t, err)
	assert.Equal(t, types.ErrConnectFailed, types.KindOf(err))
}

func TestFactory_HTTPConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		// discard request line + headers
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
		conn.Write([]byte("payload"))
	}()

	proxyHost, proxyPortStr, _ := net.SplitHostPort(ln.Addr().String())
	proxyPort := mustAtoi(t, proxyPortStr)

	f := &Factory{
		ConnectTimeout: time.Second,
		Proxy:          types.ProxyConfig{Type: types.ProxyHTTPConnect, Host: proxyHost, Port: proxyPort},
	}
	conn, err := f.Open("example.com", 80, false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 7)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _ := conn.Read(buf)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestFactory_SOCKS5_NoAuth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := make([]byte, 2)
		conn.Read(greeting)
		nMethods := int(greeting[1])
		methods := make([]byte, nMethods)
		conn.Read(methods)
		conn.Write([]byte{0x05, 0x00})

		head := make([]byte, 4)
		conn.Read(head)
		domainLen := make([]byte, 1)
		conn.Read(domainLen)
		domain := make([]byte, int(domainLen[0]))
		conn.Read(domain)
		port := make([]byte, 2)
		conn.Read(port)

		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		conn.Write([]byte("ok"))
	}()

	proxyHost, proxyPortStr, _ := net.SplitHostPort(ln.Addr().String())
	proxyPort := mustAtoi(t, proxyPortStr)

	f := &Factory{
		ConnectTimeout: time.Second,
		Proxy:          types.ProxyConfig{Type: types.ProxySOCKS5, Host: proxyHost, Port: proxyPort},
	}
	conn, err := f.Open("example.com", 443, false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _ := conn.Read(buf)
	assert.Equal(t, "ok", string(buf[:n]))
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
