package state

import (
	"testing"
	"time"
)

// drive runs the machine from Start until it stops asking for a timer and
// returns the actions with their offsets from the start.
func drive(m *Machine, first Step) []struct {
	at     time.Duration
	action Action
	reg    bool
} {
	var out []struct {
		at     time.Duration
		action Action
		reg    bool
	}
	var at time.Duration
	step := first
	for i := 0; i < 20; i++ {
		if step.Action != ActionNone {
			out = append(out, struct {
				at     time.Duration
				action Action
				reg    bool
			}{at, step.Action, step.Registered})
		}
		if step.Next == 0 {
			break
		}
		at += step.Next
		step = m.Advance()
	}
	return out
}

// TestMachine_ProbeThenAnnounce tests the RFC 6762 §8 timeline: three probes
// 250 ms apart, then two announcements one second apart.
func TestMachine_ProbeThenAnnounce(t *testing.T) {
	m := NewMachine(DefaultConfig())
	got := drive(m, m.Start())

	want := []struct {
		at     time.Duration
		action Action
		reg    bool
	}{
		{0, ActionSendProbe, false},
		{250 * time.Millisecond, ActionSendProbe, false},
		{500 * time.Millisecond, ActionSendProbe, false},
		{750 * time.Millisecond, ActionSendAnnouncement, true},
		{1750 * time.Millisecond, ActionSendAnnouncement, false},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d steps %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if m.GetState() != StateEstablished {
		t.Errorf("final state = %v, want Established", m.GetState())
	}
	if !m.Announced() {
		t.Error("Announced() = false after announcing")
	}
}

func TestMachine_SharedSkipsProbing(t *testing.T) {
	m := NewMachine(DefaultConfig())
	step := m.StartShared()
	if step.Action != ActionSendAnnouncement || !step.Registered {
		t.Errorf("StartShared() = %+v, want registered announcement", step)
	}
	if m.GetState() != StateAnnouncing {
		t.Errorf("state = %v, want Announcing", m.GetState())
	}
}

// TestMachine_ConflictDuringProbing tests that a conflict stops the probe
// sequence and Restart begins a fresh one.
func TestMachine_ConflictDuringProbing(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMachine(DefaultConfig())
	m.Start()
	m.Advance()
	m.Conflict(now)

	if m.GetState() != StateConflictDetected {
		t.Fatalf("state = %v, want ConflictDetected", m.GetState())
	}
	if step := m.Advance(); step.Action != ActionNone || step.Next != 0 {
		t.Errorf("Advance() in conflict = %+v, want no-op", step)
	}
	if m.Announced() {
		t.Error("Announced() = true, want false (no goodbye owed)")
	}

	step := m.Restart(now)
	if step.Action != ActionSendProbe {
		t.Errorf("Restart() = %+v, want probe", step)
	}
	got := drive(m, step)
	if len(got) != 5 || !got[3].reg {
		t.Errorf("restarted sequence = %+v", got)
	}
}

// TestMachine_ConflictRateLimit tests RFC 6762 §8.1: after 15 conflicts in
// ten seconds the host waits five seconds before probing again.
func TestMachine_ConflictRateLimit(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewMachine(DefaultConfig())
	m.Start()
	for i := 0; i < 14; i++ {
		m.Conflict(now)
		if step := m.Restart(now); step.Action != ActionSendProbe {
			t.Fatalf("conflict %d: Restart() = %+v, want immediate probe", i+1, step)
		}
	}
	m.Conflict(now)
	step := m.Restart(now)
	if step.Action != ActionNone || step.Next != 5*time.Second {
		t.Errorf("15th conflict: Restart() = %+v, want 5s delay", step)
	}
	if step = m.Advance(); step.Action != ActionSendProbe {
		t.Errorf("after delay: Advance() = %+v, want probe", step)
	}

	// Conflicts older than the window no longer count.
	later := now.Add(11 * time.Second)
	m.Conflict(later)
	if step := m.Restart(later); step.Action != ActionSendProbe {
		t.Errorf("after window: Restart() = %+v, want immediate probe", step)
	}
}

func TestMachine_DeferAfterLostTieBreak(t *testing.T) {
	m := NewMachine(DefaultConfig())
	m.Start()
	step := m.Defer()
	if step.Action != ActionNone || step.Next != time.Second {
		t.Fatalf("Defer() = %+v, want 1s wait", step)
	}
	got := drive(m, step)
	if len(got) != 5 {
		t.Fatalf("steps after defer = %+v", got)
	}
	if got[0].at != time.Second || got[0].action != ActionSendProbe {
		t.Errorf("first step after defer = %+v", got[0])
	}
	if !got[3].reg {
		t.Error("first announcement after defer should complete the registration")
	}
}

// TestMachine_Reannounce tests RFC 6762 §8.4: changed rdata is announced
// again without probing and without a second registration callback.
func TestMachine_Reannounce(t *testing.T) {
	m := NewMachine(DefaultConfig())
	drive(m, m.Start())

	got := drive(m, m.Reannounce())
	if len(got) != 2 {
		t.Fatalf("reannounce steps = %+v, want 2 announcements", got)
	}
	for _, s := range got {
		if s.action != ActionSendAnnouncement || s.reg {
			t.Errorf("reannounce step = %+v", s)
		}
	}

	idle := NewMachine(DefaultConfig())
	if step := idle.Reannounce(); step.Action != ActionNone {
		t.Errorf("Reannounce() before start = %+v, want no-op", step)
	}
}

func TestMachine_Stop(t *testing.T) {
	m := NewMachine(DefaultConfig())
	m.Start()
	if m.Stop() {
		t.Error("Stop() while probing = true, want false (nothing announced)")
	}

	m = NewMachine(DefaultConfig())
	drive(m, m.Start())
	if !m.Stop() {
		t.Error("Stop() after announcing = false, want true")
	}
	if m.Stop() {
		t.Error("second Stop() = true, want false")
	}
	if m.GetState() != StateStopped {
		t.Errorf("state = %v, want Stopped", m.GetState())
	}
}

func TestState_String(t *testing.T) {
	if StateProbing.String() != "Probing" || State(42).String() != "State(42)" {
		t.Error("unexpected State.String output")
	}
}
