package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(NewWriter(&buf))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteAtom("success"))
	require.NoError(t, enc.WriteList())
	require.NoError(t, enc.WriteNumber(2))
	require.NoError(t, enc.WriteString([]byte("hello(world)")))
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.WriteListEnd())
	require.NoError(t, enc.Flush())

	dec := NewDecoder(NewReader(&buf))
	require.NoError(t, dec.ReadList())
	atom, err := dec.ReadAtom()
	require.NoError(t, err)
	require.Equal(t, "success", atom)
	require.NoError(t, dec.ReadList())
	n, err := dec.ReadNumber()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	s, err := dec.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello(world)", string(s))
	require.NoError(t, dec.ReadListEnd())
	require.NoError(t, dec.ReadListEnd())
}

func TestReadOptional(t *testing.T) {
	dec := NewDecoder(NewReader(strings.NewReader(") ")))
	present, err := dec.ReadOptional()
	require.NoError(t, err)
	require.False(t, present)

	dec2 := NewDecoder(NewReader(strings.NewReader("3:abc )")))
	present, err = dec2.ReadOptional()
	require.NoError(t, err)
	require.True(t, present)
	s, err := dec2.ReadString()
	require.NoError(t, err)
	require.Equal(t, "abc", string(s))
}

// TestReadEndSkipsParensInsideStrings verifies the §8 property: read_end
// applied after read_list leaves the stream positioned exactly after the
// list's closing paren, even when contained strings carry '(' ')' bytes.
func TestReadEndSkipsParensInsideStrings(t *testing.T) {
	msg := "( a 4:(()) ) 7:trailer 2:ok"
	dec := NewDecoder(NewReader(strings.NewReader(msg)))
	require.NoError(t, dec.ReadList())
	require.NoError(t, dec.ReadEnd())
	trailer, err := dec.ReadString()
	require.NoError(t, err)
	require.Equal(t, "trailer", string(trailer))
	ok, err := dec.ReadString()
	require.NoError(t, err)
	require.Equal(t, "ok", string(ok))
}

func TestReadEndNestedLists(t *testing.T) {
	msg := "( a ( b ( c ) 1 ) 2:hi ) rest "
	dec := NewDecoder(NewReader(strings.NewReader(msg)))
	require.NoError(t, dec.ReadList())
	require.NoError(t, dec.ReadEnd())
	atom, err := dec.ReadAtom()
	require.NoError(t, err)
	require.Equal(t, "rest", atom)
}

func TestReadEndSkipsBareNumbers(t *testing.T) {
	msg := "( 1 22 333 ) rest "
	dec := NewDecoder(NewReader(strings.NewReader(msg)))
	require.NoError(t, dec.ReadList())
	require.NoError(t, dec.ReadEnd())
	atom, err := dec.ReadAtom()
	require.NoError(t, err)
	require.Equal(t, "rest", atom)
}

func TestReadListFailsOnWrongToken(t *testing.T) {
	dec := NewDecoder(NewReader(strings.NewReader("atom")))
	err := dec.ReadList()
	require.Error(t, err)
}
