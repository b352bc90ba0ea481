package engine

import (
	"net"
	"slices"

	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/responder"
	"github.com/joshuafuller/dnssd/internal/state"
)

// handlePacket decodes one datagram and routes it. Malformed datagrams are
// counted and dropped without affecting anything else.
func (e *Engine) handlePacket(p inbound) {
	if e.shadowed(p) {
		return
	}
	msg, err := message.Decode(p.data)
	if err != nil {
		e.metrics.Malformed()
		e.log.Debug("dropping malformed datagram", "from", p.from, "interface", p.ifIndex, "error", err)
		return
	}
	if msg.Header.IsResponse() {
		e.metrics.PacketReceived("response")
		e.handleResponse(msg, p)
		return
	}
	e.metrics.PacketReceived("query")
	e.handleQuery(msg, p)
}

func (e *Engine) handleQuery(msg *message.Message, p inbound) {
	src, _ := p.from.(*net.UDPAddr)
	if src == nil {
		return
	}
	if responder.IsProbe(msg) && !e.isOwnSource(p.from) {
		e.handleProbe(msg, p.ifIndex)
	}
	if e.registry.Len() == 0 {
		return
	}

	reply := e.answerer.Answer(msg, p.ifIndex, src)
	if reply.Empty() {
		return
	}
	if len(reply.Deferred) > 0 {
		e.deferAnswers(p.ifIndex, reply.Deferred)
	}
	if len(reply.Multicast) > 0 {
		packets, err := responder.PackResponse(0, nil, reply.Multicast, reply.MulticastAdditionals, protocol.MaxPacketSize)
		if err != nil {
			e.log.Warn("building response failed", "error", err)
		} else {
			e.sendPackets(p.link, p.ifIndex, nil, packets, "response")
		}
	}
	if len(reply.Unicast) > 0 && reply.UnicastDest != nil {
		var (
			id        uint16
			questions []message.Question
		)
		if reply.Legacy {
			id, questions = reply.ID, reply.Questions
		}
		packets, err := responder.PackResponse(id, questions, reply.Unicast, reply.UnicastAdditionals, protocol.MaxPacketSize)
		if err != nil {
			e.log.Warn("building response failed", "error", err)
			return
		}
		e.sendPackets(p.link, p.ifIndex, reply.UnicastDest, packets, "response")
	}
}

// deferredAnswers are the rate-limited multicast answers owed on one
// interface, sent together by a single timer.
type deferredAnswers struct {
	pending []responder.Deferred
	timer   *timer
}

// deferAnswers queues answers the rate limiter held back and arms the
// interface's timer for the earliest of them (RFC 6762 §6.2).
func (e *Engine) deferAnswers(ifIndex int, ds []responder.Deferred) {
	d := e.deferred[ifIndex]
	if d == nil {
		d = &deferredAnswers{}
		e.deferred[ifIndex] = d
	}
	for _, add := range ds {
		i := slices.IndexFunc(d.pending, func(p responder.Deferred) bool { return p.Record == add.Record })
		switch {
		case i < 0:
			d.pending = append(d.pending, add)
		case add.At.Before(d.pending[i].At):
			d.pending[i] = add
		}
	}
	e.armDeferred(ifIndex, d)
}

func (e *Engine) armDeferred(ifIndex int, d *deferredAnswers) {
	next := d.pending[0].At
	for _, p := range d.pending[1:] {
		if p.At.Before(next) {
			next = p.At
		}
	}
	if d.timer.Active() && !d.timer.at.After(next) {
		return
	}
	e.sched.Cancel(d.timer)
	d.timer = e.sched.At(next, func() { e.sendDeferred(ifIndex) })
}

// sendDeferred multicasts the deferred answers that are due on an interface
// in one response.
func (e *Engine) sendDeferred(ifIndex int) {
	d := e.deferred[ifIndex]
	if d == nil {
		return
	}
	now := e.clock.Now()
	var due, later []responder.Deferred
	for _, p := range d.pending {
		if p.At.After(now) {
			later = append(later, p)
		} else {
			due = append(due, p)
		}
	}
	d.pending = later
	if len(later) == 0 {
		delete(e.deferred, ifIndex)
	} else {
		e.armDeferred(ifIndex, d)
	}

	l := e.linkFor(ifIndex)
	if l == nil {
		return
	}
	reply := e.answerer.AnswerDeferred(due, ifIndex)
	if len(reply.Multicast) == 0 {
		return
	}
	packets, err := responder.PackResponse(0, nil, reply.Multicast, reply.MulticastAdditionals, protocol.MaxPacketSize)
	if err != nil {
		e.log.Warn("building response failed", "error", err)
		return
	}
	e.log.Debug("sending deferred answers", "interface", ifIndex, "records", len(reply.Multicast))
	e.sendPackets(l, ifIndex, nil, packets, "response")
}

// dropDeferred forgets the answers owed on an interface.
func (e *Engine) dropDeferred(ifIndex int) {
	if d, ok := e.deferred[ifIndex]; ok {
		e.sched.Cancel(d.timer)
		delete(e.deferred, ifIndex)
	}
}

// handleProbe applies the simultaneous-probe tie-break of RFC 6762 §8.2 to
// claims still probing a name another host is probing too.
func (e *Engine) handleProbe(msg *message.Message, ifIndex int) {
	for _, q := range msg.Questions {
		theirs := responder.ProbeAuthorities(msg, q.Name)
		if len(theirs) == 0 {
			continue
		}
		for _, g := range e.registry.GroupsNamed(q.Name) {
			if g.IfIndex != 0 && g.IfIndex != ifIndex {
				continue
			}
			op, ok := e.claimantFor(g)
			if !ok || op.claim().machine.GetState() != state.StateProbing {
				continue
			}
			if responder.TieBreak(g.ProbeRecords(), theirs) < 0 {
				e.deferProbe(op)
			}
		}
	}
}

// handleResponse checks every record for conflicts with local claims, then
// feeds it through the cache in the order the records appear.
func (e *Engine) handleResponse(msg *message.Message, p inbound) {
	if msg.Header.Opcode() != 0 || msg.Header.RCode() != 0 {
		return
	}
	if udp, ok := p.from.(*net.UDPAddr); !ok || udp.Port != protocol.Port {
		// RFC 6762 §6: responses not from port 5353 are not trusted.
		return
	}
	own := e.isOwnSource(p.from)
	now := e.clock.Now()
	for _, rrs := range [][]message.ResourceRecord{msg.Answers, msg.Additionals} {
		for _, rr := range rrs {
			if !own {
				e.checkConflict(rr, p.ifIndex)
			}
			for _, ev := range e.cache.Insert(rr, p.ifIndex, now) {
				e.dispatch(ev)
			}
		}
	}
}

// checkConflict hands a record to every claim of the same name whose records
// it contradicts (RFC 6762 §9).
func (e *Engine) checkConflict(rr message.ResourceRecord, ifIndex int) {
	if rr.IsGoodbye() {
		return
	}
	for _, g := range e.registry.GroupsNamed(rr.Name) {
		if g.IfIndex != 0 && g.IfIndex != ifIndex {
			continue
		}
		op, ok := e.claimantFor(g)
		if !ok || !contending(op.claim()) {
			continue
		}
		if responder.Conflicts(g.ProbeRecords(), rr) {
			e.log.Info("name conflict", "name", g.Name, "record", rr.String(), "interface", ifIndex)
			e.metrics.Conflict()
			op.conflict(e)
		}
	}
}
