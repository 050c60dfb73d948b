package svnproto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/svnbridge/gitsvn/internal/wire"
)

// recordingHandler captures every call DriveEditor makes, in order, for
// assertion.
type recordingHandler struct {
	calls    []string
	deltas   map[string][]byte
	openRev  int64
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{deltas: map[string][]byte{}}
}

func (h *recordingHandler) OpenRoot(rev int64) error {
	h.openRev = rev
	h.calls = append(h.calls, "open-root")
	return nil
}
func (h *recordingHandler) DeleteEntry(path string) error {
	h.calls = append(h.calls, "delete-entry:"+path)
	return nil
}
func (h *recordingHandler) AddDir(path string, copyFrom *CopySource) error {
	h.calls = append(h.calls, "add-dir:"+path)
	return nil
}
func (h *recordingHandler) OpenDir(path string) error {
	h.calls = append(h.calls, "open-dir:"+path)
	return nil
}
func (h *recordingHandler) CloseDir() error {
	h.calls = append(h.calls, "close-dir")
	return nil
}
func (h *recordingHandler) AddFile(path string, copyFrom *CopySource) error {
	h.calls = append(h.calls, "add-file:"+path)
	return nil
}
func (h *recordingHandler) OpenFile(path string) error {
	h.calls = append(h.calls, "open-file:"+path)
	return nil
}
func (h *recordingHandler) ApplyTextDelta(path string, baseChecksum string) error {
	h.calls = append(h.calls, "apply-textdelta:"+path)
	return nil
}
func (h *recordingHandler) TextDeltaChunk(path string, chunk []byte) error {
	h.deltas[path] = append(h.deltas[path], chunk...)
	return nil
}
func (h *recordingHandler) TextDeltaEnd(path string) error {
	h.calls = append(h.calls, "textdelta-end:"+path)
	return nil
}
func (h *recordingHandler) CloseFile(path string, textChecksum string) error {
	h.calls = append(h.calls, "close-file:"+path)
	return nil
}
func (h *recordingHandler) CloseEdit() error {
	h.calls = append(h.calls, "close-edit")
	return nil
}

// scriptedDecoder wraps a duplex pair for a standalone editor-drive test
// (no handshake needed, unlike the ops_test.go harness).
func scriptedDecoder(t *testing.T) (*wire.Decoder, *wire.Encoder) {
	t.Helper()
	a, b := pipePair()
	t.Cleanup(func() { a.Close(); b.Close() })
	return wire.NewDecoder(wire.NewReader(a)), wire.NewEncoder(wire.NewWriter(b))
}

func TestDriveEditorFullSequence(t *testing.T) {
	dec, enc := scriptedDecoder(t)
	h := newRecordingHandler()

	done := make(chan error, 1)
	go func() { done <- DriveEditor(dec, h) }()

	// open-root ( (17) root-token )
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("open-root"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteNumber(17))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteString([]byte("root-token")))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// target-rev ( 18 ) -- unknown to the handler, must be skipped.
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("target-rev"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteNumber(18))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// add-dir ( "lib" root-token dir-token1 ( ) )
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("add-dir"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("lib")))
	require.NoError(t, enc.WriteString([]byte("root-token")))
	require.NoError(t, enc.WriteString([]byte("dir-token1")))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// add-file ( "lib/a.txt" dir-token1 file-token1 ( ) )
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("add-file"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("lib/a.txt")))
	require.NoError(t, enc.WriteString([]byte("dir-token1")))
	require.NoError(t, enc.WriteString([]byte("file-token1")))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// apply-textdelta ( file-token1 ) -- base-checksum omitted
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("apply-textdelta"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("file-token1")))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// textdelta-chunk ( file-token1 "SVN\x00..." ) -- split across two chunks.
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("textdelta-chunk"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("file-token1")))
	require.NoError(t, enc.WriteString([]byte("SVN")))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("textdelta-chunk"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("file-token1")))
	require.NoError(t, enc.WriteString([]byte{0}))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// textdelta-end ( file-token1 )
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("textdelta-end"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("file-token1")))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// close-file ( file-token1 ) -- text-checksum omitted
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("close-file"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("file-token1")))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// close-dir ( dir-token1 )
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("close-dir"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("dir-token1")))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// delete-entry ( "lib/old.txt" ( 17 ) root-token )
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("delete-entry"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("lib/old.txt")))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteNumber(17))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteString([]byte("root-token")))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	// close-edit ( )
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("close-edit"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	require.NoError(t, <-done)

	require.Equal(t, int64(17), h.openRev)
	require.Equal(t, []string{
		"open-root",
		"add-dir:lib",
		"add-file:lib/a.txt",
		"apply-textdelta:lib/a.txt",
		"textdelta-end:lib/a.txt",
		"close-file:lib/a.txt",
		"close-dir",
		"delete-entry:lib/old.txt",
		"close-edit",
	}, h.calls)
	require.Equal(t, []byte("SVN\x00"), h.deltas["lib/a.txt"])
}

func TestDriveEditorRejectsBadPath(t *testing.T) {
	dec, enc := scriptedDecoder(t)
	h := newRecordingHandler()

	done := make(chan error, 1)
	go func() { done <- DriveEditor(dec, h) }()

	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("add-dir"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteString([]byte("../escape")))
	require.NoError(t, enc.WriteString([]byte("root-token")))
	require.NoError(t, enc.WriteString([]byte("dir-token1")))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	require.Error(t, <-done)
}
