package svnproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// readCommand reads one "( cmd ( args... ) )" frame from the fake server
// side and returns the command atom, leaving the args list open for the
// caller to read fields from and close.
func readCommand(t *testing.T, s *fakeServer) string {
	t.Helper()
	require.NoError(t, s.dec.ReadList())
	cmd, err := s.dec.ReadAtom()
	require.NoError(t, err)
	require.NoError(t, s.dec.ReadList())
	return cmd
}

func closeCommandServer(t *testing.T, s *fakeServer) {
	t.Helper()
	require.NoError(t, s.dec.ReadEnd())
	require.NoError(t, s.dec.ReadEnd())
}

func TestCommitEditorFullSequence(t *testing.T) {
	conn := dialHarness(t, func(s *fakeServer) {
		require.NoError(t, s.dec.ReadList()) // the commit request
		require.NoError(t, s.dec.ReadEnd())
		require.NoError(t, s.enc.WriteList())
		require.NoError(t, s.enc.WriteAtom("success"))
		require.NoError(t, s.enc.WriteList())
		require.NoError(t, s.enc.WriteListEnd())
		require.NoError(t, s.enc.WriteListEnd())
		require.NoError(t, s.enc.Flush())

		require.Equal(t, "open-root", readCommand(t, s))
		closeCommandServer(t, s)

		require.Equal(t, "add-dir", readCommand(t, s))
		path, err := s.dec.ReadString()
		require.NoError(t, err)
		require.Equal(t, "lib", string(path))
		closeCommandServer(t, s)

		require.Equal(t, "add-file", readCommand(t, s))
		path, err = s.dec.ReadString()
		require.NoError(t, err)
		require.Equal(t, "lib/a.txt", string(path))
		closeCommandServer(t, s)

		require.Equal(t, "apply-textdelta", readCommand(t, s))
		closeCommandServer(t, s)

		require.Equal(t, "textdelta-chunk", readCommand(t, s))
		closeCommandServer(t, s)

		require.Equal(t, "textdelta-end", readCommand(t, s))
		closeCommandServer(t, s)

		require.Equal(t, "close-file", readCommand(t, s))
		closeCommandServer(t, s)

		require.Equal(t, "close-dir", readCommand(t, s))
		closeCommandServer(t, s)

		require.Equal(t, "close-edit", readCommand(t, s))
		closeCommandServer(t, s)

		require.NoError(t, s.enc.WriteList())
		require.NoError(t, s.enc.WriteAtom("success"))
		require.NoError(t, s.enc.WriteList())
		require.NoError(t, s.enc.WriteNumber(43))
		require.NoError(t, s.enc.WriteString([]byte("2024-01-02T00:00:00.000000Z")))
		require.NoError(t, s.enc.WriteString([]byte("bob")))
		require.NoError(t, s.enc.WriteListEnd())
		require.NoError(t, s.enc.WriteListEnd())
		require.NoError(t, s.enc.Flush())
	})

	editor, err := conn.StartCommit("add a lib")
	require.NoError(t, err)
	require.NoError(t, editor.OpenRoot(42))
	require.NoError(t, editor.AddDir("lib", nil))
	require.NoError(t, editor.AddFile("lib/a.txt", nil))
	require.NoError(t, editor.ApplyTextDelta("lib/a.txt", ""))
	require.NoError(t, editor.TextDeltaChunk("lib/a.txt", []byte("SVN\x00")))
	require.NoError(t, editor.TextDeltaEnd("lib/a.txt"))
	require.NoError(t, editor.CloseFile("lib/a.txt", ""))
	require.NoError(t, editor.CloseDir())

	info, err := editor.CloseEdit()
	require.NoError(t, err)
	require.Equal(t, int64(43), info.Rev)
	require.Equal(t, "bob", info.Author)
}

func TestCommitEditorRejectsUnopenedParent(t *testing.T) {
	editor := &CommitEditor{tokens: map[string]string{}}
	err := editor.AddDir("lib", nil)
	require.Error(t, err)
}
