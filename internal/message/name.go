// Package message implements the DNS wire codec used for mDNS (RFC 1035 §4,
// RFC 6762 §18).
//
// Names are carried in presentation form: labels separated by dots, a trailing
// dot for the root, and a backslash escape for dots and backslashes that occur
// inside a label ("My\.Printer._http._tcp.local."). Bytes outside printable
// ASCII other than UTF-8 sequences are written as \DDD.
package message

import (
	"fmt"
	"strings"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// ParseName decodes a possibly compressed name starting at offset and returns
// it in presentation form together with the offset just past the name in its
// original position.
//
// RFC 1035 §4.1.4: pointers have the top two bits set and refer to an earlier
// occurrence of a name. Pointers must point strictly backwards and at most
// protocol.MaxPointerJumps are followed, so malicious loops terminate.
func ParseName(data []byte, offset int) (string, int, error) {
	labels, next, err := readLabels(data, offset)
	if err != nil {
		return "", 0, err
	}
	return labelsToName(labels), next, nil
}

func readLabels(data []byte, offset int) ([][]byte, int, error) {
	if offset < 0 || offset >= len(data) {
		return nil, 0, &errors.WireFormatError{
			Operation: "parse name",
			Offset:    offset,
			Message:   "offset out of bounds",
			Err:       errors.ErrTruncatedMessage,
		}
	}

	var labels [][]byte
	pos := offset
	next := -1 // offset after the name in its original position
	jumps := 0
	wireLen := 1 // root byte

	for {
		if pos >= len(data) {
			return nil, 0, &errors.WireFormatError{
				Operation: "parse name",
				Offset:    pos,
				Message:   "truncated label",
				Err:       errors.ErrTruncatedMessage,
			}
		}
		length := int(data[pos])

		switch {
		case length == 0:
			if next < 0 {
				next = pos + 1
			}
			return labels, next, nil

		case length&0xC0 == 0xC0:
			if pos+1 >= len(data) {
				return nil, 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Message:   "truncated compression pointer",
					Err:       errors.ErrTruncatedMessage,
				}
			}
			target := int(data[pos]&0x3F)<<8 | int(data[pos+1])
			jumps++
			if target >= pos || jumps > protocol.MaxPointerJumps {
				return nil, 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Message:   fmt.Sprintf("pointer to offset %d", target),
					Err:       errors.ErrBadPointer,
				}
			}
			if next < 0 {
				next = pos + 2
			}
			pos = target

		case length > protocol.MaxLabelLength:
			// 0x40 and 0x80 prefixes are reserved label types (RFC 6891 §5).
			return nil, 0, &errors.WireFormatError{
				Operation: "parse name",
				Offset:    pos,
				Message:   fmt.Sprintf("label length %d exceeds maximum 63 bytes per RFC 1035 §3.1", length),
				Err:       errors.ErrNameTooLong,
			}

		default:
			if pos+1+length > len(data) {
				return nil, 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Message:   "truncated label",
					Err:       errors.ErrTruncatedMessage,
				}
			}
			wireLen += length + 1
			if wireLen > protocol.MaxNameLength {
				return nil, 0, &errors.WireFormatError{
					Operation: "parse name",
					Offset:    pos,
					Message:   "name exceeds maximum 255 bytes per RFC 1035 §3.1",
					Err:       errors.ErrNameTooLong,
				}
			}
			labels = append(labels, data[pos+1:pos+1+length])
			pos += 1 + length
		}
	}
}

// EncodeName encodes a presentation-form name without compression.
//
// A missing trailing dot is accepted. The empty string and "." encode the root.
func EncodeName(name string) ([]byte, error) {
	labels, err := SplitName(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(name)+2)
	for _, l := range labels {
		out = append(out, byte(len(l)))
		out = append(out, l...)
	}
	return append(out, 0), nil
}

// EncodeServiceInstanceName encodes <instance>.<serviceType> where instance is
// a single raw UTF-8 label that may contain dots and spaces (RFC 6763 §4.3).
func EncodeServiceInstanceName(instance, serviceType string) ([]byte, error) {
	if err := ValidateInstance(instance); err != nil {
		return nil, err
	}
	rest, err := EncodeName(serviceType)
	if err != nil {
		return nil, err
	}
	if len(rest)+len(instance)+1 > protocol.MaxNameLength {
		return nil, &errors.ValidationError{
			Field:   "name",
			Value:   instance + "." + serviceType,
			Message: "exceeds maximum 255 bytes per RFC 1035 §3.1",
		}
	}
	out := make([]byte, 0, len(instance)+1+len(rest))
	out = append(out, byte(len(instance)))
	out = append(out, instance...)
	return append(out, rest...), nil
}

// SplitName converts a presentation-form name into raw labels, resolving escapes.
func SplitName(name string) ([][]byte, error) {
	if name == "" || name == "." {
		return nil, nil
	}
	var (
		labels  [][]byte
		current []byte
		total   = 1
	)
	flush := func() error {
		if len(current) == 0 {
			return &errors.ValidationError{Field: "name", Value: name, Message: "empty label"}
		}
		if len(current) > protocol.MaxLabelLength {
			return &errors.ValidationError{
				Field:   "name",
				Value:   name,
				Message: fmt.Sprintf("label %q exceeds maximum length 63 bytes per RFC 1035 §3.1", current),
			}
		}
		total += len(current) + 1
		labels = append(labels, current)
		current = nil
		return nil
	}

	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '\\':
			if i+1 >= len(name) {
				return nil, &errors.ValidationError{Field: "name", Value: name, Message: "dangling escape"}
			}
			if isDigit(name[i+1]) {
				if i+3 >= len(name) {
					return nil, &errors.ValidationError{Field: "name", Value: name, Message: "short decimal escape"}
				}
				if !isDigit(name[i+2]) || !isDigit(name[i+3]) {
					return nil, &errors.ValidationError{Field: "name", Value: name, Message: "bad decimal escape"}
				}
				v := int(name[i+1]-'0')*100 + int(name[i+2]-'0')*10 + int(name[i+3]-'0')
				if v > 255 {
					return nil, &errors.ValidationError{Field: "name", Value: name, Message: "decimal escape out of range"}
				}
				current = append(current, byte(v))
				i += 3
				continue
			}
			current = append(current, name[i+1])
			i++
		case c == '.':
			if i == len(name)-1 {
				// trailing root dot
				break
			}
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			current = append(current, c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if total > protocol.MaxNameLength {
		return nil, &errors.ValidationError{
			Field:   "name",
			Value:   name,
			Message: "exceeds maximum 255 bytes per RFC 1035 §3.1",
		}
	}
	return labels, nil
}

// EscapeLabel renders a raw label in presentation form.
func EscapeLabel(label []byte) string {
	var sb strings.Builder
	for _, c := range label {
		switch {
		case c == '.' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c < 0x20 || c == 0x7F:
			fmt.Fprintf(&sb, "\\%03d", c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// UnescapeLabel resolves the escapes of a single presentation-form label.
func UnescapeLabel(s string) (string, error) {
	labels, err := SplitName(s + ".")
	if err != nil {
		return "", err
	}
	if len(labels) != 1 {
		return "", &errors.ValidationError{Field: "label", Value: s, Message: "contains an unescaped dot"}
	}
	return string(labels[0]), nil
}

func labelsToName(labels [][]byte) string {
	if len(labels) == 0 {
		return "."
	}
	var sb strings.Builder
	for _, l := range labels {
		sb.WriteString(EscapeLabel(l))
		sb.WriteByte('.')
	}
	return sb.String()
}

// Fqdn appends the root dot when missing.
func Fqdn(name string) string {
	if name == "" {
		return "."
	}
	if hasRootDot(name) {
		return name
	}
	return name + "."
}

// hasRootDot reports whether name ends in an unescaped dot.
func hasRootDot(name string) bool {
	if !strings.HasSuffix(name, ".") {
		return false
	}
	n := 0
	for i := len(name) - 2; i >= 0 && name[i] == '\\'; i-- {
		n++
	}
	return n%2 == 0
}

// CanonicalName returns the lookup key for a name: fully qualified and ASCII
// lowercased (RFC 6762 §16: names compare case-insensitively).
func CanonicalName(name string) string {
	return strings.ToLower(Fqdn(name))
}

// EqualNames compares two presentation-form names case-insensitively.
func EqualNames(a, b string) bool {
	return strings.EqualFold(Fqdn(a), Fqdn(b))
}

// ValidateInstance checks a raw service instance label (RFC 6763 §4.1.1).
func ValidateInstance(instance string) error {
	if instance == "" {
		return &errors.ValidationError{Field: "instance", Value: instance, Message: "instance name cannot be empty"}
	}
	if len(instance) > protocol.MaxLabelLength {
		return &errors.ValidationError{
			Field:   "instance",
			Value:   instance,
			Message: fmt.Sprintf("instance name exceeds maximum length 63 bytes (got %d)", len(instance)),
		}
	}
	return nil
}

// ValidateHostname applies the host name rules of RFC 1123 §2.1 to each label.
func ValidateHostname(name string) error {
	labels, err := SplitName(name)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		return &errors.ValidationError{Field: "hostname", Value: name, Message: "hostname cannot be empty"}
	}
	for _, l := range labels {
		for _, c := range l {
			if !isDigit(c) && !(c >= 'a' && c <= 'z') && !(c >= 'A' && c <= 'Z') && c != '-' {
				return &errors.ValidationError{
					Field:   "hostname",
					Value:   name,
					Message: fmt.Sprintf("invalid character %q in label %q", c, l),
				}
			}
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return &errors.ValidationError{
				Field:   "hostname",
				Value:   name,
				Message: fmt.Sprintf("label %q: hyphen cannot be first or last character", l),
			}
		}
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
