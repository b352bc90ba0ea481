package engine

import (
	"fmt"

	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// Reconfirm asks the link whether a cached record is still valid
// (RFC 6762 §10.4). The record is queried now and again after three seconds;
// unless an answer refreshes it, it leaves the cache ten seconds after the
// call and interested operations see it go.
func (e *Engine) Reconfirm(ifIndex int, name string, t protocol.RecordType, class uint16, rdata []byte) error {
	if name == "" {
		return &errors.ValidationError{Field: "name", Value: name, Message: "name is required"}
	}
	rd, err := decodeRecordData(t, rdata)
	if err != nil {
		return err
	}
	if class == 0 {
		class = protocol.ClassIN
	}
	rr := message.ResourceRecord{Name: message.Fqdn(name), Type: t, Class: class & protocol.ClassMask, Data: rd}

	if !e.submit(func() { e.reconfirm(rr, ifIndex) }) {
		return fmt.Errorf("reconfirm %s: %w", rr.Name, errors.ErrClosed)
	}
	return nil
}

func (e *Engine) reconfirm(rr message.ResourceRecord, ifIndex int) {
	now := e.clock.Now()
	if !e.cache.Reconfirm(rr, max(ifIndex, 0), now) {
		e.log.Debug("reconfirm: record not cached", "record", rr.String())
		return
	}
	e.log.Debug("reconfirming record", "record", rr.String(), "interface", ifIndex)
	q := message.Question{Name: rr.Name, Type: rr.Type, Class: rr.Class}
	send := func() {
		if ifIndex > 0 {
			e.queueOnce(ifIndex, q)
			return
		}
		seen := make(map[int]bool)
		for _, l := range e.sortedLinks() {
			for _, i := range l.ifaces {
				if !seen[i.Index] {
					seen[i.Index] = true
					e.queueOnce(i.Index, q)
				}
			}
		}
	}
	send()
	e.sched.At(now.Add(reconfirmRetry), send)
}
