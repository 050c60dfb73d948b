// Package svnproto implements the typed request/response protocol client
// (spec.md §4.3, C3): connection handshake, SASL authentication, and
// the get-latest-rev/check-path/get-dir/log/update/commit operations.
//
// Grounded on gg-scm-gg-git's internal/pktline for the general shape of
// a framed-stream reader/writer pair owned by one connection type, and
// on the teacher's GitParserOptions for the "one struct, one logger
// field, narrow methods" style of a stateful client object. The wire
// grammar itself rides entirely on internal/wire (C1+C2).
package svnproto

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/svnbridge/gitsvn/internal/svnerr"
	"github.com/svnbridge/gitsvn/internal/wire"
)

// Transport is the single capability every connection variant must
// supply (spec.md §9 "Dynamic dispatch over transports"): a
// bidirectional byte stream. A TCP dial, an --inetd stdio pair, and (in
// principle) an HTTP long-poll shim can all satisfy it.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Conn is one live connection to a server, after a successful
// handshake.
type Conn struct {
	t       Transport
	dec     *wire.Decoder
	enc     *wire.Encoder
	log     *logrus.Entry
	RepoUUID string
	RootURL  string
}

// Dial performs the connection handshake over t: reads the greeting,
// negotiates auth, and reads the repository UUID and root URL the server
// sends after auth (spec.md §4.3 "Connection handshake"). It sends no
// reparent command.
func Dial(t Transport, creds Credentials, log *logrus.Entry) (*Conn, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Conn{
		t:   t,
		dec: wire.NewDecoder(wire.NewReader(t)),
		enc: wire.NewEncoder(wire.NewWriter(t)),
		log: log,
	}
	if err := c.greet(); err != nil {
		return nil, err
	}
	if err := c.authenticate(creds); err != nil {
		return nil, err
	}
	if err := c.readRepoInfo(); err != nil {
		return nil, err
	}
	return c, nil
}

const supportedMajorVersion = 2

// greet reads "(success (minver maxver (caps...) realm))" and confirms
// the single supported major version is within [minver, maxver].
func (c *Conn) greet() error {
	if err := c.dec.ReadList(); err != nil {
		return err
	}
	tag, err := c.dec.ReadAtom()
	if err != nil {
		return err
	}
	if tag != "success" {
		return svnerr.New(svnerr.Protocol, "expected success greeting, got %q", tag)
	}
	if err := c.dec.ReadList(); err != nil {
		return err
	}
	minVer, err := c.dec.ReadNumber()
	if err != nil {
		return err
	}
	maxVer, err := c.dec.ReadNumber()
	if err != nil {
		return err
	}
	if uint64(supportedMajorVersion) < minVer || uint64(supportedMajorVersion) > maxVer {
		return svnerr.New(svnerr.Protocol, "server supports versions %d-%d, we support %d", minVer, maxVer, supportedMajorVersion)
	}
	if err := c.dec.ReadEnd(); err != nil { // caps + realm, not yet needed
		return err
	}
	if err := c.dec.ReadEnd(); err != nil { // close the outer success list
		return err
	}
	return nil
}

// readRepoInfo reads the post-auth "(success (uuid repo-url))" reply.
func (c *Conn) readRepoInfo() error {
	if err := c.dec.ReadList(); err != nil {
		return err
	}
	tag, err := c.dec.ReadAtom()
	if err != nil {
		return err
	}
	if tag != "success" {
		return svnerr.New(svnerr.Protocol, "expected success after auth, got %q", tag)
	}
	if err := c.dec.ReadList(); err != nil {
		return err
	}
	uuid, err := c.dec.ReadString()
	if err != nil {
		return err
	}
	root, err := c.dec.ReadString()
	if err != nil {
		return err
	}
	c.RepoUUID = string(uuid)
	c.RootURL = string(root)
	if err := c.dec.ReadEnd(); err != nil {
		return err
	}
	return c.dec.ReadEnd()
}

// Close releases the underlying transport.
func (c *Conn) Close() error { return c.t.Close() }

// checkFailure inspects a reply whose opening '(' and tag atom the caller
// has already read: if tag is "failure", every contained (code message
// file line) is logged and a ProtocolError naming the first message is
// returned (spec.md §4.3 "Failure semantics"). For any other tag it
// reads nothing and returns nil.
func (c *Conn) checkFailure(tag string) error {
	if tag != "failure" {
		return nil
	}
	if err := c.dec.ReadList(); err != nil {
		return err
	}
	var first string
	for {
		present, err := c.dec.ReadOptional()
		if err != nil {
			return err
		}
		if !present {
			break
		}
		if err := c.dec.ReadList(); err != nil {
			return err
		}
		_, err = c.dec.ReadNumber() // code
		if err != nil {
			return err
		}
		msg, err := c.dec.ReadString()
		if err != nil {
			return err
		}
		if first == "" {
			first = string(msg)
		}
		c.log.WithField("server_message", string(msg)).Warn("svn server reported failure")
		if err := c.dec.ReadEnd(); err != nil { // file, line
			return err
		}
	}
	if err := c.dec.ReadEnd(); err != nil { // close outer failure list
		return err
	}
	return svnerr.New(svnerr.Protocol, "server failure: %s", first)
}
