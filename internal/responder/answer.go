package responder

import (
	"net"
	"time"

	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/records"
)

// legacyUnicastTTL caps TTLs in replies to legacy resolvers (RFC 6762 §6.7).
const legacyUnicastTTL = 10

// Reply holds the records to send in answer to one query.
type Reply struct {
	// Multicast answers go to the group on the receiving interface.
	Multicast            []message.ResourceRecord
	MulticastAdditionals []message.ResourceRecord

	// Unicast answers go to UnicastDest.
	Unicast            []message.ResourceRecord
	UnicastAdditionals []message.ResourceRecord
	UnicastDest        *net.UDPAddr

	// Legacy replies echo the query ID and questions (RFC 6762 §6.7).
	Legacy    bool
	ID        uint16
	Questions []message.Question

	// Deferred multicast answers were sent too recently on this interface
	// and are owed once the rate limit allows (RFC 6762 §6.2).
	Deferred []Deferred
}

// Deferred is a multicast answer held back by the rate limiter.
type Deferred struct {
	Record       *records.Record
	At           time.Time
	ProbeDefense bool
}

// Empty reports whether there is nothing to send now or later.
func (r *Reply) Empty() bool {
	return len(r.Multicast) == 0 && len(r.Unicast) == 0 && len(r.Deferred) == 0
}

// Answerer answers queries from the registry.
type Answerer struct {
	registry *Registry
	limiter  *records.MulticastLimiter
}

// NewAnswerer creates an Answerer. The limiter enforces the one second
// per-record multicast interval of RFC 6762 §6.2.
func NewAnswerer(registry *Registry, limiter *records.MulticastLimiter) *Answerer {
	return &Answerer{registry: registry, limiter: limiter}
}

// Answer builds the reply to a query received on ifIndex from src.
//
// Answers listed in the query's known-answer section with at least half of
// their TTL left are suppressed (RFC 6762 §7.1). Questions with the QU bit
// get a unicast reply (RFC 6762 §5.4); queries from a port other than 5353
// get a legacy unicast reply. PTR answers carry the SRV, TXT and address
// records of the instance as additionals (RFC 6763 §12). Multicast answers
// blocked by the rate limiter are returned in Deferred with the time they
// become eligible.
func (a *Answerer) Answer(query *message.Message, ifIndex int, src *net.UDPAddr) Reply {
	var reply Reply
	if query.Header.IsResponse() || query.Header.Opcode() != 0 {
		return reply
	}

	legacy := src != nil && src.Port != protocol.Port
	probe := IsProbe(query)
	if legacy {
		reply.Legacy = true
		reply.ID = query.Header.ID
		reply.UnicastDest = src
	}

	var mAns, uAns []*records.Record
	for _, q := range query.Questions {
		for _, rec := range a.registry.Lookup(q.Name, q.Type, q.Class, ifIndex) {
			if knownAnswer(query.Answers, rec.RR) {
				continue
			}
			switch {
			case legacy:
				uAns = appendUnique(uAns, rec)
			case q.Unicast && src != nil:
				uAns = appendUnique(uAns, rec)
			default:
				mAns = appendUnique(mAns, rec)
			}
		}
		if legacy {
			reply.Questions = append(reply.Questions, message.Question{Name: q.Name, Type: q.Type, Class: q.Class})
		}
	}

	if len(uAns) > 0 {
		if !legacy {
			reply.UnicastDest = src
		}
		reply.Unicast = wireRecords(uAns, legacy)
		reply.UnicastAdditionals = wireRecords(a.additionals(uAns, query.Answers, ifIndex), legacy)
	}

	var sent []*records.Record
	for _, rec := range mAns {
		wire := rec.Wire()
		allowed := a.limiter.CanMulticast(wire, ifIndex)
		if probe {
			allowed = a.limiter.CanMulticastProbeDefense(wire, ifIndex)
		}
		if !allowed {
			reply.Deferred = append(reply.Deferred, Deferred{
				Record:       rec,
				At:           a.limiter.NextMulticast(wire, ifIndex, probe),
				ProbeDefense: probe,
			})
			continue
		}
		a.limiter.RecordMulticast(wire, ifIndex)
		sent = append(sent, rec)
	}
	a.fillMulticast(&reply, sent, query.Answers, ifIndex)
	return reply
}

// AnswerDeferred builds the multicast reply for deferred answers that are now
// due. Records withdrawn or replaced in the meantime are dropped, as are
// records multicast on ifIndex since they were deferred.
func (a *Answerer) AnswerDeferred(due []Deferred, ifIndex int) Reply {
	var reply Reply
	var sent []*records.Record
	for _, d := range due {
		if containsRecord(sent, d.Record) || !a.registry.Announced(d.Record) {
			continue
		}
		wire := d.Record.Wire()
		allowed := a.limiter.CanMulticast(wire, ifIndex)
		if d.ProbeDefense {
			allowed = a.limiter.CanMulticastProbeDefense(wire, ifIndex)
		}
		if !allowed {
			continue
		}
		a.limiter.RecordMulticast(wire, ifIndex)
		sent = append(sent, d.Record)
	}
	a.fillMulticast(&reply, sent, nil, ifIndex)
	return reply
}

func (a *Answerer) fillMulticast(reply *Reply, sent []*records.Record, known []message.ResourceRecord, ifIndex int) {
	if len(sent) == 0 {
		return
	}
	reply.Multicast = wireRecords(sent, false)
	reply.MulticastAdditionals = wireRecords(a.additionals(sent, known, ifIndex), false)
}

// additionals returns the records recommended by RFC 6763 §12 for answers,
// minus those already answered or known to the querier.
func (a *Answerer) additionals(answers []*records.Record, known []message.ResourceRecord, ifIndex int) []*records.Record {
	var out []*records.Record
	add := func(recs []*records.Record) {
		for _, rec := range recs {
			if containsRecord(answers, rec) || knownAnswer(known, rec.RR) {
				continue
			}
			out = appendUnique(out, rec)
		}
	}
	addHost := func(host string) {
		add(a.registry.Lookup(host, protocol.RecordTypeA, protocol.ClassIN, ifIndex))
		add(a.registry.Lookup(host, protocol.RecordTypeAAAA, protocol.ClassIN, ifIndex))
	}

	for _, rec := range answers {
		switch d := rec.RR.Data.(type) {
		case message.PTR:
			srvs := a.registry.Lookup(d.Target, protocol.RecordTypeSRV, protocol.ClassIN, ifIndex)
			add(srvs)
			add(a.registry.Lookup(d.Target, protocol.RecordTypeTXT, protocol.ClassIN, ifIndex))
			for _, srv := range srvs {
				if s, ok := srv.RR.Data.(message.SRV); ok {
					addHost(s.Target)
				}
			}
		case message.SRV:
			addHost(d.Target)
		}
	}
	return out
}

// knownAnswer reports whether the querier listed rr with at least half of
// its TTL remaining.
func knownAnswer(known []message.ResourceRecord, rr message.ResourceRecord) bool {
	for _, k := range known {
		if k.Type != rr.Type || !message.EqualNames(k.Name, rr.Name) {
			continue
		}
		if !message.EqualRData(k.Data, rr.Data) {
			continue
		}
		if uint64(k.TTL)*2 >= uint64(rr.TTL) {
			return true
		}
	}
	return false
}

func containsRecord(list []*records.Record, rec *records.Record) bool {
	for _, r := range list {
		if sameRecord(r, rec) {
			return true
		}
	}
	return false
}

func appendUnique(list []*records.Record, rec *records.Record) []*records.Record {
	if containsRecord(list, rec) {
		return list
	}
	return append(list, rec)
}

func wireRecords(recs []*records.Record, legacy bool) []message.ResourceRecord {
	out := make([]message.ResourceRecord, 0, len(recs))
	for _, rec := range recs {
		rr := rec.Wire()
		if legacy {
			rr.CacheFlush = false
			if rr.TTL > legacyUnicastTTL {
				rr.TTL = legacyUnicastTTL
			}
		}
		out = append(out, rr)
	}
	return out
}
