package engine

import (
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
	"github.com/joshuafuller/dnssd/internal/records"
	"github.com/joshuafuller/dnssd/internal/responder"
	"github.com/joshuafuller/dnssd/internal/state"
)

// claim is the part of a registration that owns records on the link: the
// lifecycle machine, the registry group and the pending step timer.
type claim struct {
	machine *state.Machine
	group   *responder.Group
	step    *timer
}

func newClaim(id uint64, name string, ifIndex int) *claim {
	return &claim{
		machine: state.NewMachine(state.DefaultConfig()),
		group:   &responder.Group{ID: id, Name: name, IfIndex: max(ifIndex, 0)},
	}
}

// claimant is an operation that owns records in the registry.
type claimant interface {
	operation
	claim() *claim

	// registered is called with the first announcement of a name.
	registered(e *Engine)

	// conflict is called when another host answers with different rdata for
	// the claimed name.
	conflict(e *Engine)

	// interfacesChanged is called after the interfaces of the link changed.
	interfacesChanged(e *Engine)
}

// runStep performs a lifecycle step and arms the timer for the next one.
func (e *Engine) runStep(op claimant, step state.Step) {
	c := op.claim()
	e.sched.Cancel(c.step)
	c.step = nil

	switch step.Action {
	case state.ActionSendProbe:
		e.sendProbe(op.base(), c.group)
	case state.ActionSendAnnouncement:
		c.group.Active = true
		e.announce(op.base(), c.group.Records, false)
		if step.Registered {
			op.registered(e)
		}
	}
	if step.Next > 0 {
		c.step = e.after(op, step.Next, func() { e.runStep(op, c.machine.Advance()) })
	}
}

// deferProbe restarts probing after a lost simultaneous-probe tie-break.
func (e *Engine) deferProbe(op claimant) {
	c := op.claim()
	e.log.Debug("lost probe tie-break, deferring", "operation", op.base().id, "name", c.group.Name)
	e.runStep(op, c.machine.Defer())
}

// sendProbe sends an ANY query for the claimed name with the proposed records
// in the authority section (RFC 6762 §8.1).
func (e *Engine) sendProbe(b *opBase, g *responder.Group) {
	probe := g.ProbeRecords()
	for _, idx := range b.link.targets(b.ifIndex) {
		mb := message.NewBuilder(message.Header{}, protocol.MaxPacketSize)
		if err := mb.AddQuestion(message.Question{Name: g.Name, Type: protocol.RecordTypeANY, Class: protocol.ClassIN}); err != nil {
			e.log.Warn("building probe failed", "name", g.Name, "error", err)
			return
		}
		for _, rr := range probe {
			if err := mb.AddAuthority(rr); err != nil {
				e.log.Warn("building probe failed", "name", g.Name, "error", err)
				return
			}
		}
		e.sendPackets(b.link, idx, nil, [][]byte{mb.Bytes()}, "probe")
	}
}

// announce multicasts records on every interface of the operation scope as
// an unsolicited response. With goodbye set the records carry TTL 0.
func (e *Engine) announce(b *opBase, recs []*records.Record, goodbye bool) {
	if len(recs) == 0 || b.link == nil {
		return
	}
	if _, open := e.links[b.link.scope]; !open {
		return
	}
	kind := "announcement"
	if goodbye {
		kind = "goodbye"
	}
	for _, idx := range b.link.targets(b.ifIndex) {
		var rrs []message.ResourceRecord
		for _, rec := range recs {
			if rec.IfIndex != 0 && rec.IfIndex != idx {
				continue
			}
			if goodbye {
				rrs = append(rrs, rec.Goodbye())
			} else {
				rrs = append(rrs, rec.Wire())
			}
		}
		if len(rrs) == 0 {
			continue
		}
		packets, err := responder.PackResponse(0, nil, rrs, nil, protocol.MaxPacketSize)
		if err != nil {
			e.log.Warn("building "+kind+" failed", "error", err)
			continue
		}
		e.sendPackets(b.link, idx, nil, packets, kind)
		if !goodbye {
			for _, rr := range rrs {
				e.limiter.RecordMulticast(rr, idx)
			}
		}
	}
}

// releaseClaim withdraws a claim: the group leaves the registry and records no
// other group still announces get a goodbye.
func (e *Engine) releaseClaim(op claimant) {
	c := op.claim()
	e.sched.Cancel(c.step)
	c.step = nil
	announced := c.machine.Stop()
	orphans, err := e.registry.Remove(c.group.ID)
	if err != nil {
		return
	}
	if announced && c.group.Active {
		e.announce(op.base(), orphans, true)
	}
	c.group.Active = false
}

// claimantFor returns the running operation owning a registry group.
func (e *Engine) claimantFor(g *responder.Group) (claimant, bool) {
	op, ok := e.ops[g.ID]
	if !ok || op.base().finished {
		return nil, false
	}
	c, ok := op.(claimant)
	return c, ok
}

// contending reports whether a claim is in a state where another host's
// records can take the name from it.
func contending(c *claim) bool {
	switch c.machine.GetState() {
	case state.StateProbing, state.StateAnnouncing, state.StateEstablished:
		return true
	default:
		return false
	}
}
