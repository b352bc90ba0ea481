package message

import (
	goerrors "errors"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

func printerResponse() *Message {
	return &Message{
		Header: Header{Flags: protocol.FlagQR | protocol.FlagAA},
		Answers: []ResourceRecord{
			{
				Name:  "_ipp._tcp.local.",
				Type:  protocol.RecordTypePTR,
				Class: protocol.ClassIN,
				TTL:   protocol.TTLService,
				Data:  PTR{Target: "Printer._ipp._tcp.local."},
			},
		},
		Additionals: []ResourceRecord{
			{
				Name:       "Printer._ipp._tcp.local.",
				Type:       protocol.RecordTypeSRV,
				Class:      protocol.ClassIN,
				CacheFlush: true,
				TTL:        protocol.TTLHostname,
				Data:       SRV{Port: 631, Target: "printer.local."},
			},
			{
				Name:       "Printer._ipp._tcp.local.",
				Type:       protocol.RecordTypeTXT,
				Class:      protocol.ClassIN,
				CacheFlush: true,
				TTL:        protocol.TTLHostname,
				Data:       TXT{Strings: [][]byte{[]byte("path=/ipp"), []byte("rp=print")}},
			},
			{
				Name:       "printer.local.",
				Type:       protocol.RecordTypeA,
				Class:      protocol.ClassIN,
				CacheFlush: true,
				TTL:        protocol.TTLHostname,
				Data:       A{Addr: net.IPv4(192, 168, 1, 5).To4()},
			},
			{
				Name:       "printer.local.",
				Type:       protocol.RecordTypeAAAA,
				Class:      protocol.ClassIN,
				CacheFlush: true,
				TTL:        protocol.TTLHostname,
				Data:       AAAA{Addr: net.ParseIP("fe80::1")},
			},
		},
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	msg := printerResponse()
	msg.Questions = []Question{
		{Name: "_ipp._tcp.local.", Type: protocol.RecordTypePTR, Class: protocol.ClassIN, Unicast: true},
	}

	wire, err := msg.Encode()
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestMessage_Compression(t *testing.T) {
	msg := printerResponse()
	wire, err := msg.Encode()
	require.NoError(t, err)

	var uncompressed int
	for _, rr := range msg.Records() {
		name, err := EncodeName(rr.Name)
		require.NoError(t, err)
		rd, err := RDataBytes(rr.Data)
		require.NoError(t, err)
		uncompressed += len(name) + 10 + len(rd)
	}
	assert.Less(t, len(wire), headerLen+uncompressed, "repeated suffixes should be compressed")
}

// TestMessage_MiekgDecodesOurs uses an independent DNS implementation to check
// that encoded messages are valid on the wire.
func TestMessage_MiekgDecodesOurs(t *testing.T) {
	wire, err := printerResponse().Encode()
	require.NoError(t, err)

	var m dns.Msg
	require.NoError(t, m.Unpack(wire))
	require.Len(t, m.Answer, 1)
	require.Len(t, m.Extra, 4)

	ptr, ok := m.Answer[0].(*dns.PTR)
	require.True(t, ok)
	assert.Equal(t, "Printer._ipp._tcp.local.", ptr.Ptr)
	assert.Equal(t, uint32(4500), ptr.Hdr.Ttl)

	srv, ok := m.Extra[0].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, uint16(631), srv.Port)
	assert.Equal(t, "printer.local.", srv.Target)
	assert.Equal(t, uint16(dns.ClassINET|0x8000), srv.Hdr.Class)

	txt, ok := m.Extra[1].(*dns.TXT)
	require.True(t, ok)
	assert.Equal(t, []string{"path=/ipp", "rp=print"}, txt.Txt)

	a, ok := m.Extra[2].(*dns.A)
	require.True(t, ok)
	assert.True(t, a.A.Equal(net.IPv4(192, 168, 1, 5)))
}

func TestMessage_DecodesMiekg(t *testing.T) {
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Compress = true
	m.Answer = []dns.RR{
		&dns.PTR{
			Hdr: dns.RR_Header{Name: "_http._tcp.local.", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 4500},
			Ptr: "Web Server._http._tcp.local.",
		},
		&dns.SRV{
			Hdr:    dns.RR_Header{Name: "Web Server._http._tcp.local.", Rrtype: dns.TypeSRV, Class: dns.ClassINET | 0x8000, Ttl: 120},
			Port:   8080,
			Target: "web.local.",
		},
		&dns.TXT{
			Hdr: dns.RR_Header{Name: "Web Server._http._tcp.local.", Rrtype: dns.TypeTXT, Class: dns.ClassINET | 0x8000, Ttl: 120},
			Txt: []string{"path=/", "secure"},
		},
		&dns.AAAA{
			Hdr:  dns.RR_Header{Name: "web.local.", Rrtype: dns.TypeAAAA, Class: dns.ClassINET | 0x8000, Ttl: 120},
			AAAA: net.ParseIP("fe80::2"),
		},
	}
	wire, err := m.Pack()
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)
	require.True(t, got.Header.IsResponse())
	require.Len(t, got.Answers, 4)

	assert.Equal(t, PTR{Target: "Web Server._http._tcp.local."}, got.Answers[0].Data)
	assert.False(t, got.Answers[0].CacheFlush)

	assert.Equal(t, SRV{Port: 8080, Target: "web.local."}, got.Answers[1].Data)
	assert.True(t, got.Answers[1].CacheFlush)
	assert.Equal(t, protocol.ClassIN, got.Answers[1].Class)

	txt := ParseTXT(got.Answers[2].Data.(TXT).Strings)
	v, ok := txt.Get("path")
	assert.True(t, ok)
	assert.Equal(t, "/", v)
	assert.True(t, txt.Has("secure"))

	assert.True(t, got.Answers[3].Data.(AAAA).Addr.Equal(net.ParseIP("fe80::2")))
}

func TestDecode_UnknownTypePassthrough(t *testing.T) {
	m := new(dns.Msg)
	m.Response = true
	m.Answer = []dns.RR{
		&dns.HINFO{
			Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeHINFO, Class: dns.ClassINET, Ttl: 120},
			Cpu: "arm64",
			Os:  "linux",
		},
	}
	wire, err := m.Pack()
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)
	require.Len(t, got.Answers, 1)

	unknown, ok := got.Answers[0].Data.(Unknown)
	require.True(t, ok)
	assert.Equal(t, protocol.RecordType(dns.TypeHINFO), unknown.Type())
	assert.Equal(t, []byte("\x05arm64\x05linux"), unknown.Raw)
	assert.True(t, goerrors.Is(got.Answers[0].Known(), errors.ErrUnknownType))

	// Re-encoding keeps the bytes untouched.
	again, err := got.Encode()
	require.NoError(t, err)
	var back dns.Msg
	require.NoError(t, back.Unpack(again))
	assert.Equal(t, "linux", back.Answer[0].(*dns.HINFO).Os)
}

func TestDecode_Malformed(t *testing.T) {
	good, err := printerResponse().Encode()
	require.NoError(t, err)

	tests := []struct {
		name     string
		data     []byte
		sentinel error
	}{
		{name: "short header", data: good[:5], sentinel: errors.ErrTruncatedMessage},
		{name: "cut inside records", data: good[:len(good)-3], sentinel: errors.ErrTruncatedMessage},
		{
			name: "self pointer in question",
			data: []byte{
				0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0,
				0xC0, 12, 0, 1, 0, 1,
			},
			sentinel: errors.ErrBadPointer,
		},
		{
			name: "A record with 3 bytes",
			data: []byte{
				0, 0, 0x84, 0, 0, 0, 0, 1, 0, 0, 0, 0,
				1, 'a', 0, 0, 1, 0, 1, 0, 0, 0, 120, 0, 3, 10, 0, 0,
			},
			sentinel: errors.ErrTruncatedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			var wireErr *errors.WireFormatError
			assert.True(t, goerrors.As(err, &wireErr), "got %T", err)
			assert.True(t, goerrors.Is(err, tt.sentinel), "got %v", err)
		})
	}
}

func TestBuilder_SizeLimit(t *testing.T) {
	mb := NewBuilder(Header{}, protocol.MaxPacketSize)
	require.NoError(t, mb.AddQuestion(Question{Name: "_http._tcp.local.", Type: protocol.RecordTypePTR, Class: protocol.ClassIN}))

	added := 0
	for i := 0; i < 200; i++ {
		rr := ResourceRecord{
			Name:  "_http._tcp.local.",
			Type:  protocol.RecordTypePTR,
			Class: protocol.ClassIN,
			TTL:   protocol.TTLService,
			Data:  PTR{Target: "A rather long instance name number " + string(rune('A'+i%26)) + string(rune('a'+i/26)) + "._http._tcp.local."},
		}
		err := mb.AddAnswer(rr)
		if err != nil {
			require.True(t, goerrors.Is(err, errors.ErrMessageTooLarge))
			break
		}
		added++
	}
	require.Greater(t, added, 10)
	require.Less(t, added, 200)

	wire := mb.Bytes()
	assert.LessOrEqual(t, len(wire), protocol.MaxPacketSize)

	got, err := Decode(wire)
	require.NoError(t, err)
	assert.Len(t, got.Answers, added)
}

func TestBuilder_SectionOrder(t *testing.T) {
	mb := NewBuilder(Header{}, 0)
	require.NoError(t, mb.AddAnswer(printerResponse().Answers[0]))
	assert.Error(t, mb.AddQuestion(Question{Name: "x.local.", Type: protocol.RecordTypeA, Class: protocol.ClassIN}))
}

func TestEqualRData(t *testing.T) {
	assert.True(t, EqualRData(PTR{Target: "A._http._tcp.local."}, PTR{Target: "a._HTTP._tcp.local"}))
	assert.False(t, EqualRData(PTR{Target: "A._http._tcp.local."}, PTR{Target: "B._http._tcp.local."}))
	assert.True(t, EqualRData(A{Addr: net.IPv4(10, 0, 0, 1)}, A{Addr: net.IPv4(10, 0, 0, 1).To4()}))
	assert.False(t, EqualRData(SRV{Port: 1, Target: "h.local."}, SRV{Port: 2, Target: "h.local."}))
	assert.Negative(t, CompareRData(A{Addr: net.IPv4(10, 0, 0, 1)}, A{Addr: net.IPv4(10, 0, 0, 2)}))
}

func TestEmptyTXTEncodesSingleZeroByte(t *testing.T) {
	b, err := RDataBytes(TXT{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, b)
}
