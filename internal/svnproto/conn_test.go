package svnproto

import (
	"io"

	"github.com/svnbridge/gitsvn/internal/wire"
)

// duplex joins two io.Pipe halves into a single bidirectional
// io.ReadWriteCloser, letting tests drive a fake server against the
// real Conn without a network socket.
type duplex struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (d *duplex) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *duplex) Write(p []byte) (int, error) { return d.w.Write(p) }
func (d *duplex) Close() error {
	d.r.Close()
	return d.w.Close()
}

// pipePair returns two connected duplexes: writes to one's Write are
// readable from the other's Read, in both directions.
func pipePair() (*duplex, *duplex) {
	ar, aw := io.Pipe()
	br, bw := io.Pipe()
	return &duplex{r: ar, w: bw}, &duplex{r: br, w: aw}
}

// fakeServer wraps the server side of a pipePair with wire codecs, for
// tests to script handshake/operation replies by hand.
type fakeServer struct {
	dec *wire.Decoder
	enc *wire.Encoder
	t   *duplex
}

func newFakeServer(t *duplex) *fakeServer {
	return &fakeServer{
		dec: wire.NewDecoder(wire.NewReader(t)),
		enc: wire.NewEncoder(wire.NewWriter(t)),
		t:   t,
	}
}
