package main

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
)

// defaultSVNPort is svnserve's well-known port (spec.md §4.3's wire
// protocol rides directly over TCP, no HTTP framing).
const defaultSVNPort = "3690"

// stdioTransport wraps the process's own stdin/stdout as a
// svnproto.Transport, for --inetd mode (spec.md §6 "--inetd (use
// process stdio as transport)").
type stdioTransport struct {
	r io.Reader
	w io.Writer
}

func (t stdioTransport) Read(p []byte) (int, error)  { return t.r.Read(p) }
func (t stdioTransport) Write(p []byte) (int, error) { return t.w.Write(p) }
func (t stdioTransport) Close() error                { return nil }

func newStdioTransport() stdioTransport {
	return stdioTransport{r: os.Stdin, w: os.Stdout}
}

// parsedURL is a dialled target: host:port to connect to, and the
// repository-relative path requests are layered under.
type parsedURL struct {
	HostPort string
	Path     string
}

// parseSVNURL accepts svn://host[:port]/path and returns the dial
// target and the path portion, with any leading/trailing slash
// stripped so it composes cleanly with ValidatePath's no-leading-slash
// rule.
func parseSVNURL(raw string) (parsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parsedURL{}, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "svn" {
		return parsedURL{}, fmt.Errorf("unsupported url scheme %q, expected svn://", u.Scheme)
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":" + defaultSVNPort
	}
	return parsedURL{HostPort: host, Path: strings.Trim(u.Path, "/")}, nil
}

func dialTCP(hostPort string) (net.Conn, error) {
	return net.Dial("tcp", hostPort)
}
