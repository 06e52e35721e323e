// Package httpclient implements the HTTP client (C3): single request per
// stream (Connection: close), used for both probing (HEAD) and fetching
// (GET, optionally ranged) over a transport.Factory-built connection.
package httpclient

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/surge-downloader/dlcore/internal/dlcore/transport"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
	"github.com/surge-downloader/dlcore/internal/dlcore/urlparser"
	"github.com/h2non/filetype"
	"github.com/vfaronov/httpheader"
)

// UserAgent is the fixed, identifying User-Agent sent with every request.
const UserAgent = "dlcore/1.1.0"

// Response is a single-use HTTP response: Body must be closed (and, with
// it, the underlying connection) by the caller once done reading.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       net.Conn
	raw        *http.Response
}

// Read drains the response body, honoring anything buffered by the status
// line/header parse.
func (r *Response) Read(p []byte) (int, error) {
	return r.raw.Body.Read(p)
}

func (r *Response) Close() error {
	return r.Body.Close()
}

// ContentLength returns Content-Length, or (0, false) when absent or
// unparseable.
func (r *Response) ContentLength() (uint64, bool) {
	v := r.Header.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// AcceptsRanges reports whether the server advertised Accept-Ranges: bytes.
func (r *Response) AcceptsRanges() bool {
	return r.Header.Get("Accept-Ranges") == "bytes"
}

// Client issues single HEAD/GET requests over fresh transport-factory
// connections.
type Client struct {
	Factory *transport.Factory
}

func New(f *transport.Factory) *Client {
	return &Client{Factory: f}
}

// Head performs a HEAD request and returns the parsed status/headers. The
// connection is closed before returning since HEAD has no body.
func (c *Client) Head(u *urlparser.Parsed) (*Response, error) {
	resp, err := c.do(u, "HEAD", nil, nil)
	if err != nil {
		return nil, err
	}
	resp.Close()
	return resp, nil
}

// Get performs a GET, optionally with a byte Range, and returns a Response
// whose body the caller must read then Close.
func (c *Client) Get(u *urlparser.Parsed, rangeStart, rangeEnd *uint64) (*Response, error) {
	return c.do(u, "GET", rangeStart, rangeEnd)
}

func (c *Client) do(u *urlparser.Parsed, method string, rangeStart, rangeEnd *uint64) (*Response, error) {
	conn, err := c.Factory.Open(u.Host, u.Port, u.UseTLS)
	if err != nil {
		return nil, err
	}

	hostHeader := u.Host
	if (u.UseTLS && u.Port != 443) || (!u.UseTLS && u.Port != 80) {
		hostHeader = fmt.Sprintf("%s:%d", u.Host, u.Port)
	}

	req := fmt.Sprintf("%s %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nConnection: close\r\n",
		method, u.Path, hostHeader, UserAgent)
	if rangeStart != nil && rangeEnd != nil {
		req += fmt.Sprintf("Range: bytes=%d-%d\r\n", *rangeStart, *rangeEnd)
	}
	req += "\r\n"

	if c.Factory.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.Factory.WriteTimeout))
	}
	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, types.NewError(types.ErrConnectFailed, "write request", err)
	}

	if c.Factory.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.Factory.ReadTimeout))
	}
	br := bufio.NewReader(conn)
	rawReq, _ := http.NewRequest(method, "http://"+hostHeader+u.Path, nil)
	raw, err := http.ReadResponse(br, rawReq)
	if err != nil {
		conn.Close()
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, types.NewError(types.ErrTimeout, "read response", err)
		}
		return nil, types.NewError(types.ErrTruncatedResponse, "read response", err)
	}

	conn.SetDeadline(time.Time{})

	return &Response{
		StatusCode: raw.StatusCode,
		Header:     raw.Header,
		Body:       conn,
		raw:        raw,
	}, nil
}

// ContentDispositionFileName extracts and sanitizes the filename from a
// Content-Disposition header, per spec §4.3/§4.6: `filename=` or RFC 5987
// `filename*=UTF-8''...`, url-percent-decoded, limited to printable ASCII.
// It returns "" when no usable name is present.
func ContentDispositionFileName(h http.Header) string {
	_, name, err := httpheader.ContentDisposition(h)
	if err != nil || name == "" {
		return ""
	}
	return SanitizeASCII(name)
}

// SanitizeASCII drops non-printable bytes and the path separators '/' and
// '\', matching the original engine's
// safe-to-string filter applied to both URL- and header-derived names.
func SanitizeASCII(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 0x20 && b < 0x7F && b != '/' && b != '\\' {
			out = append(out, b)
		}
	}
	return string(out)
}

// SniffExtension guesses a file extension from the first bytes of a body,
// for file names that arrived with none. Best-effort; callers ignore a
// returned empty string.
func SniffExtension(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.Extension
}
