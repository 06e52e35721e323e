// Package urlparser implements the URL parser (C1): absolute HTTP/HTTPS
// URLs only, with scheme-derived default ports.
package urlparser

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

// Parsed is the decomposed form of an accepted URL.
type Parsed struct {
	Scheme string
	Host   string
	Port   int
	Path   string
	UseTLS bool
	Raw    string
}

// Parse accepts absolute http/https URLs, defaulting the path to "/" and
// the port to 443 (https) or 80 (http). It fails with ErrInvalidUrl when
// the scheme is neither http nor https or the authority is empty.
func Parse(raw string) (*Parsed, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidUrl, raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, types.NewError(types.ErrInvalidUrl, "scheme must be http or https: "+raw, nil)
	}
	if u.Host == "" {
		return nil, types.NewError(types.ErrInvalidUrl, "empty authority: "+raw, nil)
	}

	host := u.Hostname()
	portStr := u.Port()
	port := 443
	if scheme == "http" {
		port = 80
	}
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil || p <= 0 || p > 65535 {
			return nil, types.NewError(types.ErrInvalidUrl, "invalid port: "+raw, nil)
		}
		port = p
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return &Parsed{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Path:   path,
		UseTLS: scheme == "https",
		Raw:    raw,
	}, nil
}

// FileNameFromPath derives a fallback file name from the URL's path, for
// use before any Content-Disposition header has been seen.
func FileNameFromPath(p *Parsed) string {
	path := p.Path
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	if path == "" {
		return "download"
	}
	return path
}
