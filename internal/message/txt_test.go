package message

import (
	goerrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/joshuafuller/dnssd/internal/errors"
)

func TestParseTXT_Rules(t *testing.T) {
	txt := ParseTXT([][]byte{
		[]byte("path=/ipp"),
		[]byte("=novalue"),
		[]byte(""),
		[]byte("PATH=/other"),
		[]byte("color"),
		[]byte("note="),
		[]byte("bin=\xff\xfe"),
	})

	assert.Equal(t, []string{"path", "color", "note", "bin"}, txt.Keys())

	v, ok := txt.Get("Path")
	require.True(t, ok)
	assert.Equal(t, "/ipp", v, "first duplicate wins")

	entries := txt.Entries()
	assert.False(t, entries[1].HasValue, "color is a boolean attribute")
	assert.True(t, entries[2].HasValue, "note= has an empty value")

	raw, ok := txt.GetBytes("bin")
	require.True(t, ok)
	assert.Equal(t, []byte{0xff, 0xfe}, raw)
}

func TestTXTMap_RoundTrip(t *testing.T) {
	in := map[string]string{"path": "/ipp", "rp": "print", "txtvers": "1"}
	m, err := NewTXTMap(in)
	require.NoError(t, err)

	back, err := ParseTXTRData(m.Bytes())
	require.NoError(t, err)
	assert.Equal(t, in, back.Map())
	assert.Equal(t, []string{"path", "rp", "txtvers"}, back.Keys())
}

// Every invalid pair is reported, none is silently dropped.
func TestNewTXTMap_RejectsInvalidKeys(t *testing.T) {
	_, err := NewTXTMap(map[string]string{"path": "/ipp", "bad key=x": "v", "café": "1"})
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	for _, e := range errs {
		var ve *errors.ValidationError
		assert.True(t, goerrors.As(e, &ve), "got %v", e)
	}
	assert.Contains(t, err.Error(), "key cannot contain '='")
	assert.Contains(t, err.Error(), "key must be printable US-ASCII")

	_, err = NewTXTMap(map[string]string{"": "x"})
	assert.Error(t, err)
	_, err = NewTXTMap(map[string]string{"k": strings.Repeat("v", 254)})
	assert.Error(t, err, "key=value over 255 bytes")
}

func TestTXTMap_EmptyIsSingleZero(t *testing.T) {
	m := &TXTMap{}
	assert.Equal(t, []byte{0}, m.Bytes())

	back, err := ParseTXTRData([]byte{0})
	require.NoError(t, err)
	assert.Equal(t, 0, back.Len())
}

func TestTXTMap_SetValidation(t *testing.T) {
	m := &TXTMap{}
	assert.Error(t, m.Set("", "x"))
	assert.Error(t, m.Set("a=b", "x"))
	assert.Error(t, m.Set("key", string(make([]byte, 300))))

	require.NoError(t, m.Set("Key", "1"))
	require.NoError(t, m.Set("key", "2"))
	assert.Equal(t, []string{"Key"}, m.Keys())
	v, _ := m.Get("KEY")
	assert.Equal(t, "2", v)

	m.Delete("key")
	assert.Equal(t, 0, m.Len())
}
