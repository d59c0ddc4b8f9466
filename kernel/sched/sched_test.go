package sched

import (
	"testing"

	"comus/kernel/proc"
)

func newTestScheduler(t *testing.T) (*Scheduler, *[]proc.PID) {
	t.Helper()

	table := proc.NewTable(4)
	s := New(table)

	var resumed []proc.PID
	s.ResumeFn = func(p *proc.PCB) { resumed = append(resumed, p.PID) }

	return s, &resumed
}

func TestDispatchInstallsRunningProcess(t *testing.T) {
	s, resumed := newTestScheduler(t)

	p, _ := s.Table.Alloc(proc.InitPID)
	s.Schedule(p)

	s.Dispatch()

	if p.State != proc.StateRunning {
		t.Fatalf("expected dispatched process to be RUNNING; got %v", p.State)
	}
	if p.Quantum != StandardQuantum {
		t.Fatalf("expected quantum reset to %d; got %d", StandardQuantum, p.Quantum)
	}
	if len(*resumed) != 1 || (*resumed)[0] != p.PID {
		t.Fatalf("expected ResumeFn called with the dispatched pid")
	}
	if s.Table.Current() != p {
		t.Fatalf("expected Current() to report the dispatched process")
	}
}

func TestTickPreemptsOnQuantumExpiry(t *testing.T) {
	s, resumed := newTestScheduler(t)

	a, _ := s.Table.Alloc(proc.InitPID)
	b, _ := s.Table.Alloc(proc.InitPID)
	s.Schedule(a)
	s.Schedule(b)

	s.Dispatch() // a becomes RUNNING
	*resumed = nil

	for i := 0; i < StandardQuantum-1; i++ {
		s.Tick(uint64(i))
		if s.Table.Current() == nil || s.Table.Current().PID != a.PID {
			t.Fatalf("expected a to remain current before quantum expiry (tick %d)", i)
		}
	}

	s.Tick(uint64(StandardQuantum))

	if s.Table.Current() == nil || s.Table.Current().PID != b.PID {
		t.Fatalf("expected b to be dispatched once a's quantum expired")
	}
	if a.State != proc.StateReady {
		t.Fatalf("expected a to be rescheduled to READY; got %v", a.State)
	}
}

func TestTickWakesSleepersBeforeCheckingQuantum(t *testing.T) {
	s, _ := newTestScheduler(t)

	runner, _ := s.Table.Alloc(proc.InitPID)
	s.Schedule(runner)
	s.Dispatch()

	sleeper, _ := s.Table.Alloc(proc.InitPID)
	s.Table.Sleep(sleeper, 5)

	s.Tick(5)

	if sleeper.State != proc.StateReady {
		t.Fatalf("expected the sleeper to be woken at its wakeup tick; got %v", sleeper.State)
	}
	if s.Table.Current() == nil || s.Table.Current().PID != runner.PID {
		t.Fatalf("expected the running process to keep the CPU until its quantum expires")
	}
}

func TestDispatchWithNothingRunnableLeavesNoCurrent(t *testing.T) {
	s, resumed := newTestScheduler(t)

	s.Dispatch()

	if s.Table.Current() != nil {
		t.Fatalf("expected no current process with an empty ready queue")
	}
	if len(*resumed) != 0 {
		t.Fatalf("expected no resume with an empty ready queue")
	}
}

func TestTickDispatchesWokenSleeperWhenIdle(t *testing.T) {
	s, resumed := newTestScheduler(t)

	sleeper, _ := s.Table.Alloc(proc.InitPID)
	s.Table.Sleep(sleeper, 5)

	// The tick interrupted the idle loop: no process is current.
	s.Tick(5)

	if s.Table.Current() == nil || s.Table.Current().PID != sleeper.PID {
		t.Fatalf("expected the woken sleeper to be dispatched from the idle tick")
	}
	if len(*resumed) != 1 || (*resumed)[0] != sleeper.PID {
		t.Fatalf("expected the woken sleeper to be resumed")
	}
}
