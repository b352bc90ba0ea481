package message

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

const headerLen = 12

// Header is the fixed message header (RFC 1035 §4.1.1). Section counts are
// derived from the Message slices and are not stored here.
type Header struct {
	ID    uint16
	Flags uint16
}

// IsResponse reports the QR bit.
func (h Header) IsResponse() bool { return h.Flags&protocol.FlagQR != 0 }

// IsTruncated reports the TC bit. In an mDNS query it announces that more
// known answers follow (RFC 6762 §7.2).
func (h Header) IsTruncated() bool { return h.Flags&protocol.FlagTC != 0 }

// Opcode returns the 4-bit opcode.
func (h Header) Opcode() int { return int(h.Flags>>11) & 0xF }

// RCode returns the 4-bit response code.
func (h Header) RCode() int { return int(h.Flags & 0xF) }

// Question is a single entry of the question section. Class excludes the QU
// bit, which is carried in Unicast.
type Question struct {
	Name    string
	Type    protocol.RecordType
	Class   uint16
	Unicast bool
}

func (q Question) pack(b *builder) error {
	if err := b.name(q.Name, true); err != nil {
		return err
	}
	class := q.Class & protocol.ClassMask
	if q.Unicast {
		class |= protocol.UnicastResponseBit
	}
	b.uint16(uint16(q.Type))
	b.uint16(class)
	return nil
}

// String renders the question for logs.
func (q Question) String() string {
	qu := ""
	if q.Unicast {
		qu = " QU"
	}
	return fmt.Sprintf("%s %s%s", q.Name, q.Type, qu)
}

// ResourceRecord is an answer, authority or additional record. Class excludes
// the cache-flush bit, which is carried in CacheFlush.
type ResourceRecord struct {
	Name       string
	Type       protocol.RecordType
	Class      uint16
	CacheFlush bool
	TTL        uint32
	Data       RData
}

func (rr ResourceRecord) pack(b *builder) error {
	if rr.Data == nil {
		return &errors.ValidationError{Field: "rdata", Value: rr.Name, Message: "record has no data"}
	}
	if err := b.name(rr.Name, true); err != nil {
		return err
	}
	class := rr.Class & protocol.ClassMask
	if rr.CacheFlush {
		class |= protocol.CacheFlushBit
	}
	b.uint16(uint16(rr.Type))
	b.uint16(class)
	b.uint32(rr.TTL)

	lenAt := len(b.buf)
	b.uint16(0)
	if err := rr.Data.pack(b); err != nil {
		return err
	}
	rdlen := len(b.buf) - lenAt - 2
	if rdlen > 0xFFFF {
		return &errors.ValidationError{Field: "rdata", Value: rr.Name, Message: "rdata exceeds 65535 bytes"}
	}
	binary.BigEndian.PutUint16(b.buf[lenAt:], uint16(rdlen))
	return nil
}

// IsGoodbye reports a TTL of zero (RFC 6762 §10.1).
func (rr ResourceRecord) IsGoodbye() bool { return rr.TTL == 0 }

// Known returns an error wrapping ErrUnknownType when the payload was kept as
// opaque bytes.
func (rr ResourceRecord) Known() error {
	if _, ok := rr.Data.(Unknown); ok {
		return &errors.WireFormatError{
			Operation: "parse rdata",
			Message:   fmt.Sprintf("%s rdata kept as raw bytes", rr.Type),
			Err:       errors.ErrUnknownType,
		}
	}
	return nil
}

// String renders the record in zone-file style.
func (rr ResourceRecord) String() string {
	flush := ""
	if rr.CacheFlush {
		flush = " flush"
	}
	data := "<nil>"
	if rr.Data != nil {
		data = rr.Data.String()
	}
	return fmt.Sprintf("%s %d IN%s %s %s", rr.Name, rr.TTL, flush, rr.Type, data)
}

// Message is a complete DNS message.
type Message struct {
	Header      Header
	Questions   []Question
	Answers     []ResourceRecord
	Authorities []ResourceRecord
	Additionals []ResourceRecord
}

// Encode serializes the message with name compression.
func (m *Message) Encode() ([]byte, error) {
	mb := NewBuilder(m.Header, 0)
	for _, q := range m.Questions {
		if err := mb.AddQuestion(q); err != nil {
			return nil, err
		}
	}
	for _, rr := range m.Answers {
		if err := mb.AddAnswer(rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range m.Authorities {
		if err := mb.AddAuthority(rr); err != nil {
			return nil, err
		}
	}
	for _, rr := range m.Additionals {
		if err := mb.AddAdditional(rr); err != nil {
			return nil, err
		}
	}
	return mb.Bytes(), nil
}

// Records returns answers, authorities and additionals in wire order.
func (m *Message) Records() []ResourceRecord {
	out := make([]ResourceRecord, 0, len(m.Answers)+len(m.Authorities)+len(m.Additionals))
	out = append(out, m.Answers...)
	out = append(out, m.Authorities...)
	return append(out, m.Additionals...)
}

// String summarizes the message for debug logs.
func (m *Message) String() string {
	var sb strings.Builder
	kind := "query"
	if m.Header.IsResponse() {
		kind = "response"
	}
	fmt.Fprintf(&sb, "%s id=%d flags=%#04x", kind, m.Header.ID, m.Header.Flags)
	for _, q := range m.Questions {
		fmt.Fprintf(&sb, "\n  Q %s", q)
	}
	for _, rr := range m.Records() {
		fmt.Fprintf(&sb, "\n  R %s", rr)
	}
	return sb.String()
}

// Decode parses a wire message. Rdata of unmodelled types is preserved as
// Unknown; any structural problem aborts with a *errors.WireFormatError.
func Decode(data []byte) (*Message, error) {
	if len(data) < headerLen {
		return nil, &errors.WireFormatError{
			Operation: "parse header",
			Offset:    0,
			Message:   fmt.Sprintf("message of %d bytes is shorter than the header", len(data)),
			Err:       errors.ErrTruncatedMessage,
		}
	}
	m := &Message{
		Header: Header{
			ID:    binary.BigEndian.Uint16(data[0:2]),
			Flags: binary.BigEndian.Uint16(data[2:4]),
		},
	}
	qd := int(binary.BigEndian.Uint16(data[4:6]))
	an := int(binary.BigEndian.Uint16(data[6:8]))
	ns := int(binary.BigEndian.Uint16(data[8:10]))
	ar := int(binary.BigEndian.Uint16(data[10:12]))

	off := headerLen
	var err error
	if qd > 0 {
		m.Questions = make([]Question, 0, min(qd, 64))
	}
	for i := 0; i < qd; i++ {
		var q Question
		if q, off, err = parseQuestion(data, off); err != nil {
			return nil, err
		}
		m.Questions = append(m.Questions, q)
	}
	if m.Answers, off, err = parseSection(data, off, an); err != nil {
		return nil, err
	}
	if m.Authorities, off, err = parseSection(data, off, ns); err != nil {
		return nil, err
	}
	if m.Additionals, _, err = parseSection(data, off, ar); err != nil {
		return nil, err
	}
	return m, nil
}

func parseQuestion(data []byte, off int) (Question, int, error) {
	name, off, err := ParseName(data, off)
	if err != nil {
		return Question{}, 0, err
	}
	if off+4 > len(data) {
		return Question{}, 0, &errors.WireFormatError{
			Operation: "parse question",
			Offset:    off,
			Message:   "missing type or class",
			Err:       errors.ErrTruncatedMessage,
		}
	}
	class := binary.BigEndian.Uint16(data[off+2 : off+4])
	return Question{
		Name:    name,
		Type:    protocol.RecordType(binary.BigEndian.Uint16(data[off : off+2])),
		Class:   class & protocol.ClassMask,
		Unicast: class&protocol.UnicastResponseBit != 0,
	}, off + 4, nil
}

func parseSection(data []byte, off, count int) ([]ResourceRecord, int, error) {
	if count == 0 {
		return nil, off, nil
	}
	out := make([]ResourceRecord, 0, min(count, 64))
	for i := 0; i < count; i++ {
		rr, next, err := parseRecord(data, off)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rr)
		off = next
	}
	return out, off, nil
}

func parseRecord(data []byte, off int) (ResourceRecord, int, error) {
	name, off, err := ParseName(data, off)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	if off+10 > len(data) {
		return ResourceRecord{}, 0, &errors.WireFormatError{
			Operation: "parse record",
			Offset:    off,
			Message:   "missing fixed record fields",
			Err:       errors.ErrTruncatedMessage,
		}
	}
	t := protocol.RecordType(binary.BigEndian.Uint16(data[off : off+2]))
	class := binary.BigEndian.Uint16(data[off+2 : off+4])
	ttl := binary.BigEndian.Uint32(data[off+4 : off+8])
	rdlen := int(binary.BigEndian.Uint16(data[off+8 : off+10]))
	off += 10

	rd, err := parseRData(data, off, rdlen, t)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	return ResourceRecord{
		Name:       name,
		Type:       t,
		Class:      class & protocol.ClassMask,
		CacheFlush: class&protocol.CacheFlushBit != 0,
		TTL:        ttl,
		Data:       rd,
	}, off + rdlen, nil
}
