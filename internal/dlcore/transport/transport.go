// Package transport implements the transport factory (C2): it opens a
// full-duplex byte stream to a (host, port), optionally through an HTTP
// CONNECT, SOCKS4, or SOCKS5 proxy, optionally layering a TLS client
// handshake on top for the target host.
package transport

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

// Factory builds connections per the engine's configured timeouts and
// proxy/TLS settings.
type Factory struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Proxy          types.ProxyConfig
	// StrictTLS selects certificate validation: true verifies the chain,
	// hostname, and validity window; false ignores unknown CA, expiry, and
	// CN mismatch (spec §4.2's strict/permissive switch). No pinning either
	// way.
	StrictTLS bool
}

// Open produces a ByteStream to host:port, optionally proxied and/or
// TLS-wrapped.
func (f *Factory) Open(host string, port int, useTLS bool) (net.Conn, error) {
	var conn net.Conn
	var err error

	switch f.Proxy.Type {
	case types.ProxyNone:
		conn, err = f.dialDirect(host, port)
	case types.ProxyHTTPConnect:
		conn, err = f.dialHTTPConnect(host, port)
	case types.ProxySOCKS4:
		conn, err = f.dialSOCKS4(host, port)
	case types.ProxySOCKS5:
		conn, err = f.dialSOCKS5(host, port)
	default:
		conn, err = f.dialDirect(host, port)
	}
	if err != nil {
		return nil, err
	}

	if useTLS {
		tlsConn, err := f.wrapTLS(conn, host)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
	return conn, nil
}

func (f *Factory) dialDirect(host string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: f.ConnectTimeout}
	conn, err := d.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, types.NewError(types.ErrTimeout, "connect "+host, err)
		}
		return nil, types.NewError(types.ErrConnectFailed, "connect "+host, err)
	}
	return conn, nil
}

func (f *Factory) proxyAddr() string {
	return net.JoinHostPort(f.Proxy.Host, strconv.Itoa(f.Proxy.Port))
}

func (f *Factory) dialHTTPConnect(host string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: f.ConnectTimeout}
	conn, err := d.Dial("tcp", f.proxyAddr())
	if err != nil {
		return nil, types.NewError(types.ErrConnectFailed, "connect proxy", err)
	}
	target := net.JoinHostPort(host, strconv.Itoa(port))

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if f.Proxy.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(f.Proxy.Username + ":" + f.Proxy.Password))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"

	f.setDeadline(conn, f.ConnectTimeout)
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "write CONNECT", err)
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "read CONNECT response", err)
	}
	if len(status) < 12 || status[9:12] != "200" {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "CONNECT rejected: "+status, nil)
	}
	// drain the rest of the header block
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, types.NewError(types.ErrProxyNegotiation, "read CONNECT headers", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	f.clearDeadline(conn)
	return conn, nil
}

// dialSOCKS4 implements the SOCKS4 greeting: VN=4, CD=1, port, IPv4,
// userid, NUL. Expects 0x5A on success.
func (f *Factory) dialSOCKS4(host string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: f.ConnectTimeout}
	conn, err := d.Dial("tcp", f.proxyAddr())
	if err != nil {
		return nil, types.NewError(types.ErrConnectFailed, "connect proxy", err)
	}

	ip, err := resolveIPv4(host)
	if err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrNameResolution, host, err)
	}

	req := make([]byte, 0, 9+len(f.Proxy.Username))
	req = append(req, 0x04, 0x01)
	req = append(req, byte(port>>8), byte(port))
	req = append(req, ip...)
	req = append(req, []byte(f.Proxy.Username)...)
	req = append(req, 0x00)

	f.setDeadline(conn, f.ConnectTimeout)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "write SOCKS4 request", err)
	}

	resp := make([]byte, 8)
	if _, err := readFull(conn, resp); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "read SOCKS4 response", err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, fmt.Sprintf("SOCKS4 rejected: 0x%02x", resp[1]), nil)
	}
	f.clearDeadline(conn)
	return conn, nil
}

// dialSOCKS5 negotiates no-auth or user/pass, then issues a CONNECT with
// ATYP=domain.
func (f *Factory) dialSOCKS5(host string, port int) (net.Conn, error) {
	d := net.Dialer{Timeout: f.ConnectTimeout}
	conn, err := d.Dial("tcp", f.proxyAddr())
	if err != nil {
		return nil, types.NewError(types.ErrConnectFailed, "connect proxy", err)
	}
	f.setDeadline(conn, f.ConnectTimeout)

	methods := []byte{0x00}
	if f.Proxy.Username != "" {
		methods = []byte{0x02}
	}
	greeting := append([]byte{0x05, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "write SOCKS5 greeting", err)
	}

	resp := make([]byte, 2)
	if _, err := readFull(conn, resp); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "read SOCKS5 method", err)
	}
	if resp[0] != 0x05 {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "unexpected SOCKS5 version", nil)
	}

	switch resp[1] {
	case 0x00:
		// no auth required
	case 0x02:
		auth := []byte{0x01, byte(len(f.Proxy.Username))}
		auth = append(auth, []byte(f.Proxy.Username)...)
		auth = append(auth, byte(len(f.Proxy.Password)))
		auth = append(auth, []byte(f.Proxy.Password)...)
		if _, err := conn.Write(auth); err != nil {
			conn.Close()
			return nil, types.NewError(types.ErrProxyNegotiation, "write SOCKS5 auth", err)
		}
		authResp := make([]byte, 2)
		if _, err := readFull(conn, authResp); err != nil {
			conn.Close()
			return nil, types.NewError(types.ErrProxyNegotiation, "read SOCKS5 auth response", err)
		}
		if authResp[1] != 0x00 {
			conn.Close()
			return nil, types.NewError(types.ErrProxyNegotiation, "SOCKS5 auth rejected", nil)
		}
	default:
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "no acceptable SOCKS5 auth method", nil)
	}

	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(host))}
	req = append(req, []byte(host)...)
	req = append(req, byte(port>>8), byte(port))
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "write SOCKS5 CONNECT", err)
	}

	head := make([]byte, 4)
	if _, err := readFull(conn, head); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "read SOCKS5 CONNECT response", err)
	}
	if head[1] != 0x00 {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, fmt.Sprintf("SOCKS5 CONNECT rejected: 0x%02x", head[1]), nil)
	}
	if err := discardSOCKS5Address(conn, head[3]); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrProxyNegotiation, "read SOCKS5 bound address", err)
	}
	f.clearDeadline(conn)
	return conn, nil
}

func discardSOCKS5Address(conn net.Conn, atyp byte) error {
	var addrLen int
	switch atyp {
	case 0x01:
		addrLen = 4
	case 0x04:
		addrLen = 16
	case 0x03:
		lenBuf := make([]byte, 1)
		if _, err := readFull(conn, lenBuf); err != nil {
			return err
		}
		addrLen = int(lenBuf[0])
	default:
		return fmt.Errorf("unknown SOCKS5 address type 0x%02x", atyp)
	}
	buf := make([]byte, addrLen+2) // address + port
	_, err := readFull(conn, buf)
	return err
}

func (f *Factory) wrapTLS(conn net.Conn, host string) (net.Conn, error) {
	cfg := &tls.Config{ServerName: host}
	if !f.StrictTLS {
		cfg.InsecureSkipVerify = true
	}
	tlsConn := tls.Client(conn, cfg)
	f.setDeadline(tlsConn, f.ConnectTimeout)
	if err := tlsConn.Handshake(); err != nil {
		return nil, types.NewError(types.ErrTlsHandshake, host, err)
	}
	f.clearDeadline(tlsConn)
	return tlsConn, nil
}

func (f *Factory) setDeadline(conn net.Conn, d time.Duration) {
	if d > 0 {
		conn.SetDeadline(time.Now().Add(d))
	}
}

func (f *Factory) clearDeadline(conn net.Conn) {
	conn.SetDeadline(time.Time{})
}

func resolveIPv4(host string) ([]byte, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no A record for %s", host)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
