// Package state implements the registration lifecycle of RFC 6762 §8:
// Probing → Announcing → Established, with conflict handling and goodbyes.
//
// The machine performs no I/O and owns no timers. The caller executes the
// returned Step (send a probe, send an announcement) and calls Advance when
// Step.Next has elapsed. This keeps every registration on the protocol
// worker and makes the timing testable without sleeping.
package state

import (
	"fmt"
	"time"

	"github.com/joshuafuller/dnssd/internal/protocol"
)

// State is a registration lifecycle state.
type State int

const (
	// StateInitial is the state before Start.
	StateInitial State = iota

	// StateProbing sends probe queries for the candidate name (RFC 6762 §8.1).
	StateProbing

	// StateAnnouncing sends unsolicited responses (RFC 6762 §8.3).
	StateAnnouncing

	// StateEstablished answers queries and defends the name.
	StateEstablished

	// StateConflictDetected means another host owns the name.
	StateConflictDetected

	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateProbing:
		return "Probing"
	case StateAnnouncing:
		return "Announcing"
	case StateEstablished:
		return "Established"
	case StateConflictDetected:
		return "ConflictDetected"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Action is the I/O the caller performs for a step.
type Action int

const (
	// ActionNone only rearms the timer.
	ActionNone Action = iota
	// ActionSendProbe sends a probe query with the proposed records in the authority section.
	ActionSendProbe
	// ActionSendAnnouncement sends an unsolicited response with every record.
	ActionSendAnnouncement
)

// Step tells the caller what to do now and when to call Advance next.
type Step struct {
	Action Action

	// Next is the delay before the following Advance; zero means no timer.
	Next time.Duration

	// Registered is set on the step that sends the first announcement of a
	// (re)registration, when the name is known to be ours.
	Registered bool
}

// Config holds the probe and announce timing.
type Config struct {
	ProbeCount       int
	ProbeInterval    time.Duration
	AnnounceCount    int
	AnnounceInterval time.Duration
}

// DefaultConfig returns the RFC 6762 timings.
func DefaultConfig() Config {
	return Config{
		ProbeCount:       protocol.ProbeCount,
		ProbeInterval:    protocol.ProbeInterval,
		AnnounceCount:    protocol.AnnounceCount,
		AnnounceInterval: protocol.AnnounceInterval,
	}
}

// Machine is the lifecycle of one registration.
type Machine struct {
	cfg           Config
	state         State
	probes        int
	announcements int
	announced     bool // at least one announcement left the host
	notify        bool // next announcement completes a registration
	conflicts     []time.Time
}

// NewMachine creates a machine in StateInitial.
func NewMachine(cfg Config) *Machine {
	if cfg.ProbeCount <= 0 {
		cfg.ProbeCount = protocol.ProbeCount
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = protocol.ProbeInterval
	}
	if cfg.AnnounceCount <= 0 {
		cfg.AnnounceCount = protocol.AnnounceCount
	}
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = protocol.AnnounceInterval
	}
	return &Machine{cfg: cfg}
}

// GetState returns the current state.
func (m *Machine) GetState() State { return m.state }

// Announced reports whether records were ever announced, i.e. whether a
// goodbye is owed on stop.
func (m *Machine) Announced() bool { return m.announced }

// Start enters Probing and sends the first probe.
func (m *Machine) Start() Step {
	m.state = StateProbing
	m.probes = 1
	m.announcements = 0
	m.notify = true
	return Step{Action: ActionSendProbe, Next: m.cfg.ProbeInterval}
}

// StartShared skips probing for records that are not unique (RFC 6762 §8.1)
// and announces immediately.
func (m *Machine) StartShared() Step {
	m.state = StateAnnouncing
	m.probes = 0
	m.announcements = 0
	m.notify = true
	return m.announce()
}

// Advance is called when the previous step's Next delay elapsed.
func (m *Machine) Advance() Step {
	switch m.state {
	case StateProbing:
		if m.probes < m.cfg.ProbeCount {
			m.probes++
			return Step{Action: ActionSendProbe, Next: m.cfg.ProbeInterval}
		}
		m.state = StateAnnouncing
		m.announcements = 0
		return m.announce()
	case StateAnnouncing:
		return m.announce()
	default:
		return Step{}
	}
}

func (m *Machine) announce() Step {
	m.announcements++
	m.announced = true
	step := Step{Action: ActionSendAnnouncement, Registered: m.notify}
	m.notify = false
	if m.announcements >= m.cfg.AnnounceCount {
		m.state = StateEstablished
		return step
	}
	step.Next = m.cfg.AnnounceInterval
	return step
}

// Reannounce repeats the announcements after a record changed without a new
// name (RFC 6762 §8.4). It has no effect before the name was won.
func (m *Machine) Reannounce() Step {
	if m.state != StateEstablished && m.state != StateAnnouncing {
		return Step{}
	}
	m.state = StateAnnouncing
	m.announcements = 0
	return m.announce()
}

// Conflict records that another host claimed the name.
func (m *Machine) Conflict(now time.Time) {
	if m.state == StateStopped {
		return
	}
	m.state = StateConflictDetected
	m.conflicts = append(m.conflicts, now)
}

// Restart probes again, typically under a new name. After
// protocol.ConflictLimit conflicts within protocol.ConflictWindow the first
// probe is delayed by protocol.ConflictDelay (RFC 6762 §8.1).
func (m *Machine) Restart(now time.Time) Step {
	cutoff := now.Add(-protocol.ConflictWindow)
	recent := m.conflicts[:0]
	for _, t := range m.conflicts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	m.conflicts = recent

	if len(m.conflicts) >= protocol.ConflictLimit {
		m.state = StateProbing
		m.probes = 0
		m.announcements = 0
		m.notify = true
		return Step{Next: protocol.ConflictDelay}
	}
	return m.Start()
}

// Defer handles a lost simultaneous-probe tie-break: wait one second and
// probe again under the same name (RFC 6762 §8.2).
func (m *Machine) Defer() Step {
	m.state = StateProbing
	m.probes = 0
	m.announcements = 0
	return Step{Next: protocol.ProbeDeferDelay}
}

// Stop enters the terminal state and reports whether goodbyes must be sent.
func (m *Machine) Stop() bool {
	if m.state == StateStopped {
		return false
	}
	m.state = StateStopped
	return m.announced
}
