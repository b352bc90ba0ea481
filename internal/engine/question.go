package engine

import (
	"cmp"
	goerrors "errors"
	"slices"
	"strings"
	"time"

	"github.com/joshuafuller/dnssd/internal/cache"
	"github.com/joshuafuller/dnssd/internal/errors"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// questionKey identifies a continuous question. Operations asking the same
// question on the same link and interface share it.
type questionKey struct {
	name    string
	qtype   protocol.RecordType
	class   uint16
	scope   int
	ifIndex int
}

// question is a continuous query retransmitted with exponential backoff
// (RFC 6762 §5.2): immediately, then after 1s, 2s, 4s and so on up to 60s.
type question struct {
	key      questionKey
	q        message.Question
	link     *link
	ifIndex  int
	refs     int
	interval time.Duration
	timer    *timer
}

// outgoing is a question waiting for the end of the turn.
type outgoing struct {
	link    *link
	ifIndex int
	q       message.Question
}

func (e *Engine) ask(l *link, ifIndex int, q message.Question) *question {
	key := questionKey{
		name:    message.CanonicalName(q.Name),
		qtype:   q.Type,
		class:   q.Class & protocol.ClassMask,
		scope:   l.scope,
		ifIndex: ifIndex,
	}
	if existing, ok := e.questions[key]; ok {
		existing.refs++
		return existing
	}
	qu := &question{key: key, q: q, link: l, ifIndex: ifIndex, refs: 1, interval: protocol.InitialQueryInterval}
	e.questions[key] = qu
	e.transmit(qu)
	return qu
}

func (e *Engine) transmit(q *question) {
	for _, idx := range q.link.targets(q.ifIndex) {
		e.outbox = append(e.outbox, outgoing{link: q.link, ifIndex: idx, q: q.q})
	}
	q.timer = e.sched.At(e.clock.Now().Add(q.interval), func() { e.transmit(q) })
	q.interval = min(q.interval*2, protocol.MaxQueryInterval)
}

func (e *Engine) release(q *question) {
	q.refs--
	if q.refs > 0 {
		return
	}
	e.sched.Cancel(q.timer)
	delete(e.questions, q.key)
}

// restartQuestions resets the backoff of every question on l and asks again.
func (e *Engine) restartQuestions(l *link) {
	keys := make([]questionKey, 0, len(e.questions))
	for k, q := range e.questions {
		if q.link == l {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, compareQuestionKeys)
	for _, k := range keys {
		q := e.questions[k]
		e.sched.Cancel(q.timer)
		q.interval = protocol.InitialQueryInterval
		e.transmit(q)
	}
}

func compareQuestionKeys(a, b questionKey) int {
	return cmp.Or(
		strings.Compare(a.name, b.name),
		cmp.Compare(a.qtype, b.qtype),
		cmp.Compare(a.class, b.class),
		cmp.Compare(a.scope, b.scope),
		cmp.Compare(a.ifIndex, b.ifIndex),
	)
}

// refresh queues a one-off query for a cached record set nearing expiry.
func (e *Engine) refresh(r cache.Refresh) {
	e.queueOnce(r.IfIndex, message.Question{Name: r.Key.Name, Type: r.Key.Type, Class: r.Key.Class})
}

// queueOnce queues a single query on an interface through the link that
// receives its traffic.
func (e *Engine) queueOnce(ifIndex int, q message.Question) {
	if l := e.linkFor(ifIndex); l != nil {
		e.outbox = append(e.outbox, outgoing{link: l, ifIndex: ifIndex, q: q})
	}
}

// linkFor returns the link handling an interface, preferring the
// all-interface link.
func (e *Engine) linkFor(ifIndex int) *link {
	var target *link
	for _, l := range e.sortedLinks() {
		if !l.has(ifIndex) {
			continue
		}
		if target == nil || l.scope == 0 {
			target = l
		}
	}
	return target
}

// flushQueries sends the questions queued during the turn, one batch per
// link and interface, each with its known answers.
func (e *Engine) flushQueries() {
	if len(e.outbox) == 0 {
		return
	}
	pending := e.outbox
	e.outbox = nil

	type dest struct {
		link    *link
		ifIndex int
	}
	var order []dest
	batches := make(map[dest][]message.Question)
	for _, o := range pending {
		d := dest{link: o.link, ifIndex: o.ifIndex}
		qs, seen := batches[d]
		if !seen {
			order = append(order, d)
		}
		dup := slices.ContainsFunc(qs, func(q message.Question) bool {
			return q.Type == o.q.Type && q.Class&protocol.ClassMask == o.q.Class&protocol.ClassMask && message.EqualNames(q.Name, o.q.Name)
		})
		if !dup {
			batches[d] = append(qs, o.q)
		}
	}
	for _, d := range order {
		if _, open := e.links[d.link.scope]; !open {
			continue
		}
		e.sendQuery(d.link, d.ifIndex, batches[d])
	}
}

// sendQuery sends questions with known-answer suppression (RFC 6762 §7.1).
// When the known answers do not fit, the packet carries TC and the rest
// follow in answer-only packets 400ms apart (RFC 6762 §7.2).
func (e *Engine) sendQuery(l *link, ifIndex int, qs []message.Question) {
	now := e.clock.Now()
	known := func(q message.Question) []message.ResourceRecord {
		return e.cache.KnownAnswers(q, ifIndex, now)
	}
	packets, err := buildQueries(qs, known, protocol.MaxPacketSize)
	if err != nil {
		e.log.Warn("building query failed", "interface", ifIndex, "error", err)
		return
	}
	for i, pkt := range packets {
		if i == 0 {
			e.sendPackets(l, ifIndex, nil, [][]byte{pkt}, "query")
			continue
		}
		e.sched.At(now.Add(time.Duration(i)*protocol.KnownAnswerInterval), func() {
			if _, open := e.links[l.scope]; open {
				e.sendPackets(l, ifIndex, nil, [][]byte{pkt}, "query")
			}
		})
	}
}

// buildQueries packs questions and their known answers into datagrams of at
// most limit bytes. Known answers shared by several questions are sent once.
// A known answer too large for a datagram of its own is dropped.
func buildQueries(qs []message.Question, known func(message.Question) []message.ResourceRecord, limit int) ([][]byte, error) {
	var (
		packets [][]byte
		chunk   []message.Question
		b       = message.NewBuilder(message.Header{}, limit)
	)

	flush := func() error {
		var answers []message.ResourceRecord
		for _, q := range chunk {
			for _, rr := range known(q) {
				if !slices.ContainsFunc(answers, func(a message.ResourceRecord) bool { return sameRecord(a, rr) }) {
					answers = append(answers, rr)
				}
			}
		}
		for _, rr := range answers {
			err := b.AddAnswer(rr)
			if err == nil {
				continue
			}
			if !goerrors.Is(err, errors.ErrMessageTooLarge) {
				return err
			}
			if !b.Empty() {
				b.SetFlags(protocol.FlagTC)
				packets = append(packets, b.Bytes())
				b = message.NewBuilder(message.Header{}, limit)
			}
			if err := b.AddAnswer(rr); err != nil && !goerrors.Is(err, errors.ErrMessageTooLarge) {
				return err
			}
		}
		if !b.Empty() {
			packets = append(packets, b.Bytes())
		}
		b = message.NewBuilder(message.Header{}, limit)
		chunk = nil
		return nil
	}

	for _, q := range qs {
		err := b.AddQuestion(q)
		if err == nil {
			chunk = append(chunk, q)
			continue
		}
		if !goerrors.Is(err, errors.ErrMessageTooLarge) || len(chunk) == 0 {
			return nil, err
		}
		if err := flush(); err != nil {
			return nil, err
		}
		if err := b.AddQuestion(q); err != nil {
			return nil, err
		}
		chunk = append(chunk, q)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return packets, nil
}

func sameRecord(a, b message.ResourceRecord) bool {
	return a.Type == b.Type && a.Class&protocol.ClassMask == b.Class&protocol.ClassMask &&
		message.EqualNames(a.Name, b.Name) && message.EqualRData(a.Data, b.Data)
}
