// Package feedback carries transient, user-visible notices from the handoff core to the
// world that hosts it.
package feedback

import "sync"

type Kind string

const (
	KindOpening      Kind = "OPENING"
	KindNotConnected Kind = "NOT_CONNECTED"
	KindArrived      Kind = "ARRIVED"
	KindConfirmed    Kind = "CONFIRMED"
	KindFailed       Kind = "FAILED"
)

type Notice struct {
	AgentID string `json:"agent_id"`
	Kind    Kind   `json:"kind"`
	Text    string `json:"text"`
}

// Notifier must be called only from the world's simulation goroutine.
type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type Discard struct{}

func (Discard) Notify(Notice) {}

// Recorder keeps every notice; worlds without a UI and tests use it.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Count returns how many notices of kind k were recorded for agentID ("" matches any).
func (r *Recorder) Count(agentID string, k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Kind == k && (agentID == "" || x.AgentID == agentID) {
			n++
		}
	}
	return n
}
