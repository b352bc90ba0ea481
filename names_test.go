package dnssd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructFullName(t *testing.T) {
	tests := []struct {
		name, instance, serviceType, domain string
		want                                string
	}{
		{"instance", "Office Printer", "_ipp._tcp", "", "Office Printer._ipp._tcp.local."},
		{"explicit domain", "Office Printer", "_ipp._tcp", "example.com", "Office Printer._ipp._tcp.example.com."},
		{"escaped dot", "Mr. Printer", "_ipp._tcp", "local.", `Mr\. Printer._ipp._tcp.local.`},
		{"type only", "", "_ipp._tcp.", "", "_ipp._tcp.local."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConstructFullName(tt.instance, tt.serviceType, tt.domain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ConstructFullName("Printer", "ipp", "")
	assert.ErrorIs(t, err, ErrBadParam)
}

func TestTXTRecords_RoundTrip(t *testing.T) {
	attrs := map[string]string{"path": "/ipp", "rp": "print"}
	raw, err := NewTXTRecord(attrs)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x09path=/ipp\x08rp=print"), raw)

	got, err := ParseTXTRecords(raw)
	require.NoError(t, err)
	assert.Equal(t, attrs, got)

	raw, err = NewTXTRecord(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, raw)
	empty, err := ParseTXTRecords([]byte{0})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewTXTRecord_RejectsInvalidKeys(t *testing.T) {
	raw, err := NewTXTRecord(map[string]string{"path": "/ipp", "bad key=x": "v", "café": "1"})
	assert.ErrorIs(t, err, ErrBadParam)
	assert.Nil(t, raw)
	assert.Contains(t, err.Error(), "bad key=x")
	assert.Contains(t, err.Error(), "café")
}

func TestParseTXTRecords_DuplicatesAndEmptyKeys(t *testing.T) {
	got, err := ParseTXTRecords([]byte("\x05a=one\x05a=two\x04=bad\x04flag"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "one", "flag": ""}, got)

	_, err = ParseTXTRecords([]byte{9, 'x'})
	assert.ErrorIs(t, err, ErrBadParam)
}

func TestIfIndexForName_Unknown(t *testing.T) {
	_, err := IfIndexForName("no-such-interface0")
	require.Error(t, err)
	assert.Equal(t, ErrUnknown, CodeOf(err))
}
