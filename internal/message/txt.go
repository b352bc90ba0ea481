package message

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/multierr"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// TXTEntry is one DNS-SD attribute (RFC 6763 §6.3).
//
// HasValue distinguishes "key" (boolean attribute) from "key=" (empty value).
type TXTEntry struct {
	Key      string
	Value    []byte
	HasValue bool
}

// TXTMap is an insertion-ordered DNS-SD attribute set. Keys compare
// case-insensitively; the spelling of the first insertion is kept.
type TXTMap struct {
	entries []TXTEntry
}

// NewTXTMap builds a map from string pairs in sorted key order. Every
// invalid pair is reported in the returned error.
func NewTXTMap(attrs map[string]string) (*TXTMap, error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m := &TXTMap{}
	var err error
	for _, k := range keys {
		err = multierr.Append(err, m.Set(k, attrs[k]))
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ParseTXT decodes TXT strings into a map. Entries with an empty key are
// skipped and the first occurrence of a duplicate key wins (RFC 6763 §6.4).
func ParseTXT(strs [][]byte) *TXTMap {
	m := &TXTMap{}
	for _, s := range strs {
		if len(s) == 0 {
			continue
		}
		key, value, hasValue := bytes.Cut(s, []byte{'='})
		if len(key) == 0 {
			continue
		}
		k := string(key)
		if m.index(k) >= 0 {
			continue
		}
		e := TXTEntry{Key: k, HasValue: hasValue}
		if hasValue {
			e.Value = append([]byte{}, value...)
		}
		m.entries = append(m.entries, e)
	}
	return m
}

// ParseTXTRData decodes raw TXT rdata bytes.
func ParseTXTRData(raw []byte) (*TXTMap, error) {
	rd, err := DecodeRData(protocol.RecordTypeTXT, raw)
	if err != nil {
		return nil, err
	}
	return ParseTXT(rd.(TXT).Strings), nil
}

func (m *TXTMap) index(key string) int {
	for i, e := range m.entries {
		if strings.EqualFold(e.Key, key) {
			return i
		}
	}
	return -1
}

func validateTXTKey(key string, valueLen int) error {
	if key == "" {
		return &errors.ValidationError{Field: "txt key", Value: key, Message: "key cannot be empty"}
	}
	if strings.Contains(key, "=") {
		return &errors.ValidationError{Field: "txt key", Value: key, Message: "key cannot contain '='"}
	}
	for _, r := range key {
		if r < 0x20 || r > 0x7E {
			return &errors.ValidationError{Field: "txt key", Value: key, Message: "key must be printable US-ASCII"}
		}
	}
	size := len(key)
	if valueLen >= 0 {
		size += 1 + valueLen
	}
	if size > protocol.MaxTXTStringSize {
		return &errors.ValidationError{
			Field:   "txt key",
			Value:   key,
			Message: fmt.Sprintf("entry of %d bytes exceeds %d", size, protocol.MaxTXTStringSize),
		}
	}
	return nil
}

// Set stores key=value, replacing any existing value in place.
func (m *TXTMap) Set(key, value string) error {
	return m.SetBytes(key, []byte(value))
}

// SetBytes stores key=value with a binary value.
func (m *TXTMap) SetBytes(key string, value []byte) error {
	if err := validateTXTKey(key, len(value)); err != nil {
		return err
	}
	e := TXTEntry{Key: key, Value: append([]byte{}, value...), HasValue: true}
	if i := m.index(key); i >= 0 {
		e.Key = m.entries[i].Key
		m.entries[i] = e
		return nil
	}
	m.entries = append(m.entries, e)
	return nil
}

// SetFlag stores a boolean attribute with no value.
func (m *TXTMap) SetFlag(key string) error {
	if err := validateTXTKey(key, -1); err != nil {
		return err
	}
	if i := m.index(key); i >= 0 {
		m.entries[i] = TXTEntry{Key: m.entries[i].Key}
		return nil
	}
	m.entries = append(m.entries, TXTEntry{Key: key})
	return nil
}

// Delete removes key if present.
func (m *TXTMap) Delete(key string) {
	if i := m.index(key); i >= 0 {
		m.entries = append(m.entries[:i], m.entries[i+1:]...)
	}
}

// Has reports whether key is present.
func (m *TXTMap) Has(key string) bool { return m.index(key) >= 0 }

// Get returns the value of key as a string. Non-UTF-8 values are returned
// with invalid bytes replaced; use GetBytes for the raw value.
func (m *TXTMap) Get(key string) (string, bool) {
	v, ok := m.GetBytes(key)
	if !ok {
		return "", false
	}
	if utf8.Valid(v) {
		return string(v), true
	}
	return strings.ToValidUTF8(string(v), "�"), true
}

// GetBytes returns the raw value of key.
func (m *TXTMap) GetBytes(key string) ([]byte, bool) {
	i := m.index(key)
	if i < 0 {
		return nil, false
	}
	return m.entries[i].Value, true
}

// Len returns the number of attributes.
func (m *TXTMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns the keys in insertion order.
func (m *TXTMap) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the attributes in insertion order.
func (m *TXTMap) Entries() []TXTEntry {
	if m == nil {
		return nil
	}
	return append([]TXTEntry(nil), m.entries...)
}

// Map returns the attributes as strings; flags map to the empty string.
func (m *TXTMap) Map() map[string]string {
	out := make(map[string]string, m.Len())
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		out[k] = v
	}
	return out
}

// Strings encodes the attributes as TXT strings.
func (m *TXTMap) Strings() [][]byte {
	if m.Len() == 0 {
		return nil
	}
	out := make([][]byte, 0, len(m.entries))
	for _, e := range m.entries {
		s := []byte(e.Key)
		if e.HasValue {
			s = append(s, '=')
			s = append(s, e.Value...)
		}
		out = append(out, s)
	}
	return out
}

// RData returns the TXT payload for the map.
func (m *TXTMap) RData() TXT { return TXT{Strings: m.Strings()} }

// Bytes returns the TXT rdata wire bytes. An empty map encodes as a single
// zero byte (RFC 6763 §6.1).
func (m *TXTMap) Bytes() []byte {
	b, _ := RDataBytes(m.RData())
	return b
}

// Clone returns an independent copy.
func (m *TXTMap) Clone() *TXTMap {
	c := &TXTMap{}
	for _, e := range m.Entries() {
		e.Value = append([]byte(nil), e.Value...)
		c.entries = append(c.entries, e)
	}
	return c
}

// String renders the map as space separated key=value pairs.
func (m *TXTMap) String() string {
	parts := make([]string, 0, m.Len())
	for _, e := range m.Entries() {
		if e.HasValue {
			v, _ := m.Get(e.Key)
			parts = append(parts, e.Key+"="+v)
		} else {
			parts = append(parts, e.Key)
		}
	}
	return strings.Join(parts, " ")
}
