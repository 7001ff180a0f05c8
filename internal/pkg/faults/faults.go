// Package faults injects deterministic failures into outbound reservation
// calls. An Injector is handed explicitly to a transport; each injector keeps
// its own counter so two transports never share fault state.
package faults

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrInjected = errors.New("injected fault")

// Call describes the outbound call about to be made.
type Call struct {
	// Attempt is 1-based within one ReserveWithRetry loop.
	Attempt        int
	IdempotencyKey string
}

// Fault is what the transport must simulate for a call. The zero value means
// "behave normally".
type Fault struct {
	// Delay is waited before the call is sent; it honours the call's context,
	// so a delay longer than the per-call timeout surfaces as a timeout.
	Delay time.Duration
	// Err, when set, is returned instead of performing the call.
	Err error
	// CrashAfterCommit asks the server to drop the connection after it has
	// committed the reservation.
	CrashAfterCommit bool
}

func (f Fault) IsZero() bool {
	return f.Delay == 0 && f.Err == nil && !f.CrashAfterCommit
}

type Injector interface {
	Inject(call Call) Fault
}

// None never injects anything.
type None struct{}

func (None) Inject(Call) Fault { return Fault{} }

// EveryNth returns fault on every n-th call it sees (n, 2n, 3n...). With
// FirstAttemptOnly set, only first attempts are counted, which targets
// distinct logical reservations rather than retries.
type EveryNth struct {
	n                int64
	fault            Fault
	firstAttemptOnly bool
	calls            atomic.Int64
}

func NewEveryNth(n int, fault Fault, firstAttemptOnly bool) *EveryNth {
	return &EveryNth{n: int64(n), fault: fault, firstAttemptOnly: firstAttemptOnly}
}

func (e *EveryNth) Inject(call Call) Fault {
	if e.n <= 0 {
		return Fault{}
	}
	if e.firstAttemptOnly && call.Attempt != 1 {
		return Fault{}
	}
	if e.calls.Add(1)%e.n == 0 {
		return e.fault
	}
	return Fault{}
}

// Script replays a fixed list of faults, one per call, then behaves normally.
type Script struct {
	mu     sync.Mutex
	faults []Fault
	calls  int
}

func NewScript(faults ...Fault) *Script {
	return &Script{faults: faults}
}

func (s *Script) Inject(Call) Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.faults) {
		return s.faults[idx]
	}
	return Fault{}
}

// Calls reports how many calls the script has seen.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Chain consults each injector in order and returns the first non-zero fault.
type Chain []Injector

func (c Chain) Inject(call Call) Fault {
	for _, inj := range c {
		if inj == nil {
			continue
		}
		if f := inj.Inject(call); !f.IsZero() {
			return f
		}
	}
	return Fault{}
}
