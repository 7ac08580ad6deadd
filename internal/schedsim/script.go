package schedsim

import (
	"sync"

	"github.com/VerteraIO/schedclient/pkg/api"
)

// AnyMethod scripts a fault for whichever method is called next.
const AnyMethod = "*"

// Fault replaces the scheduler's normal handling of one call.
type Fault struct {
	Code     api.ResponseCode
	Messages []string
	// ProtocolVersion, when set, is reported instead of api.ProtocolVersion.
	ProtocolVersion int
	// Unauthenticated rejects the caller at the transport level.
	Unauthenticated bool
	// Unavailable fails the call at the transport level.
	Unavailable bool
}

// Transient is the fault a busy scheduler answers with.
func Transient(msg string) Fault {
	return Fault{Code: api.ResponseCodeErrorTransient, Messages: []string{msg}}
}

// Script keeps per-method queues of faults and counts the calls served.
type Script struct {
	mu      sync.Mutex
	pending map[string][]Fault
	served  map[string]int
}

func NewScript() *Script {
	return &Script{
		pending: make(map[string][]Fault),
		served:  make(map[string]int),
	}
}

// Push queues faults for method, or for any method with AnyMethod.
func (s *Script) Push(method string, faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[method] = append(s.pending[method], faults...)
}

// next counts a call to method and pops its next fault, if any. Faults
// queued for the method itself win over AnyMethod.
func (s *Script) next(method string) (Fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.served[method]++
	for _, key := range []string{method, AnyMethod} {
		if q := s.pending[key]; len(q) > 0 {
			s.pending[key] = q[1:]
			return q[0], true
		}
	}
	return Fault{}, false
}

// Served reports how many calls to method reached the scheduler.
func (s *Script) Served(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served[method]
}

// Drain discards every queued fault and returns how many there were.
func (s *Script) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, q := range s.pending {
		n += len(q)
		delete(s.pending, k)
	}
	return n
}
