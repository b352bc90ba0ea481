package message

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuafuller/dnssd/internal/errors"
)

// maxCompressionOffset is the largest offset a 14-bit pointer can address.
const maxCompressionOffset = 0x3FFF

// builder accumulates wire bytes and remembers name suffixes for compression
// (RFC 1035 §4.1.4).
type builder struct {
	buf      []byte
	names    map[string]int
	added    []string
	compress bool
}

func newBuilder(capacity int) *builder {
	return &builder{
		buf:      make([]byte, 0, capacity),
		names:    make(map[string]int),
		compress: true,
	}
}

func (b *builder) bytes(p []byte) { b.buf = append(b.buf, p...) }

func (b *builder) uint16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }

func (b *builder) uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// name writes a presentation-form name, reusing an earlier identical suffix
// when compress is allowed for this field. Suffix matching is case-sensitive
// so decoded names keep the spelling they were encoded with.
func (b *builder) name(name string, compressible bool) error {
	labels, err := SplitName(name)
	if err != nil {
		return err
	}
	for i := range labels {
		key := suffixKey(labels[i:])
		if b.compress && compressible {
			if ptr, ok := b.names[key]; ok {
				b.uint16(0xC000 | uint16(ptr))
				return nil
			}
		}
		if b.compress && len(b.buf) <= maxCompressionOffset {
			if _, ok := b.names[key]; !ok {
				b.names[key] = len(b.buf)
				b.added = append(b.added, key)
			}
		}
		b.buf = append(b.buf, byte(len(labels[i])))
		b.buf = append(b.buf, labels[i]...)
	}
	b.buf = append(b.buf, 0)
	return nil
}

func suffixKey(labels [][]byte) string {
	n := 0
	for _, l := range labels {
		n += len(l) + 1
	}
	key := make([]byte, 0, n)
	for _, l := range labels {
		key = append(key, byte(len(l)))
		key = append(key, l...)
	}
	return string(key)
}

// mark captures a rollback point.
type mark struct {
	size  int
	added int
}

func (b *builder) mark() mark { return mark{size: len(b.buf), added: len(b.added)} }

func (b *builder) rollback(m mark) {
	b.buf = b.buf[:m.size]
	for _, key := range b.added[m.added:] {
		delete(b.names, key)
	}
	b.added = b.added[:m.added]
}

// section identifies the message section records are appended to.
type section int

const (
	sectionQuestion section = iota
	sectionAnswer
	sectionAuthority
	sectionAdditional
)

// Builder assembles a message incrementally under a size limit. Sections must
// be filled in wire order. A record that would exceed the limit is rejected
// with ErrMessageTooLarge and leaves the message unchanged, so callers can
// spill the remainder into a follow-up packet.
type Builder struct {
	b       *builder
	limit   int
	section section
	counts  [4]uint16
}

// NewBuilder starts a message with the given header. A limit of zero means
// no limit beyond the 16-bit count fields.
func NewBuilder(h Header, limit int) *Builder {
	b := newBuilder(512)
	b.uint16(h.ID)
	b.uint16(h.Flags)
	b.bytes(make([]byte, 8))
	return &Builder{b: b, limit: limit}
}

// Len returns the current encoded size.
func (mb *Builder) Len() int { return len(mb.b.buf) }

// Count returns the number of entries in each section.
func (mb *Builder) Count() (questions, answers, authorities, additionals int) {
	return int(mb.counts[0]), int(mb.counts[1]), int(mb.counts[2]), int(mb.counts[3])
}

// Empty reports whether nothing beyond the header was added.
func (mb *Builder) Empty() bool {
	return mb.counts == [4]uint16{}
}

// AddQuestion appends a question.
func (mb *Builder) AddQuestion(q Question) error {
	if err := mb.enter(sectionQuestion); err != nil {
		return err
	}
	m := mb.b.mark()
	if err := q.pack(mb.b); err != nil {
		mb.b.rollback(m)
		return err
	}
	return mb.commit(m, sectionQuestion)
}

// AddAnswer appends a record to the answer section.
func (mb *Builder) AddAnswer(rr ResourceRecord) error { return mb.addRecord(sectionAnswer, rr) }

// AddAuthority appends a record to the authority section.
func (mb *Builder) AddAuthority(rr ResourceRecord) error { return mb.addRecord(sectionAuthority, rr) }

// AddAdditional appends a record to the additional section.
func (mb *Builder) AddAdditional(rr ResourceRecord) error {
	return mb.addRecord(sectionAdditional, rr)
}

func (mb *Builder) addRecord(s section, rr ResourceRecord) error {
	if err := mb.enter(s); err != nil {
		return err
	}
	m := mb.b.mark()
	if err := rr.pack(mb.b); err != nil {
		mb.b.rollback(m)
		return err
	}
	return mb.commit(m, s)
}

func (mb *Builder) enter(s section) error {
	if s < mb.section {
		return fmt.Errorf("message builder: section %d added after section %d", s, mb.section)
	}
	if mb.counts[s] == 0xFFFF {
		return errors.ErrMessageTooLarge
	}
	mb.section = s
	return nil
}

func (mb *Builder) commit(m mark, s section) error {
	if mb.limit > 0 && len(mb.b.buf) > mb.limit {
		size := len(mb.b.buf) - m.size
		mb.b.rollback(m)
		return fmt.Errorf("%w: %d byte entry with %d bytes left", errors.ErrMessageTooLarge, size, mb.limit-m.size)
	}
	mb.counts[s]++
	return nil
}

// SetFlags rewrites the header flags, e.g. to set TC after the packet filled up.
func (mb *Builder) SetFlags(flags uint16) {
	binary.BigEndian.PutUint16(mb.b.buf[2:4], flags)
}

// Bytes finalizes the section counts and returns the encoded message.
func (mb *Builder) Bytes() []byte {
	for i, c := range mb.counts {
		binary.BigEndian.PutUint16(mb.b.buf[4+2*i:], c)
	}
	out := make([]byte, len(mb.b.buf))
	copy(out, mb.b.buf)
	return out
}
