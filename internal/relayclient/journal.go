package relayclient

import "time"

type Direction string

const (
	DirOut Direction = "OUT"
	DirIn  Direction = "IN"
)

type JournalEvent string

const (
	JournalSent      JournalEvent = "SENT"
	JournalApplied   JournalEvent = "APPLIED"
	JournalDuplicate JournalEvent = "DUPLICATE"
	JournalRejected  JournalEvent = "REJECTED"
	JournalConfirmed JournalEvent = "CONFIRMED"
	JournalTimedOut  JournalEvent = "TIMED_OUT"
)

// JournalEntry is one line of the handoff audit trail.
type JournalEntry struct {
	Time        time.Time    `json:"time"`
	Direction   Direction    `json:"direction"`
	Event       JournalEvent `json:"event"`
	AgentID     string       `json:"agent_id"`
	Nonce       string       `json:"nonce"`
	PortalID    string       `json:"portal_id,omitempty"`
	SourceWorld string       `json:"source_world,omitempty"`
	TargetWorld string       `json:"target_world,omitempty"`
	Detail      string       `json:"detail,omitempty"`
}

type Journal interface {
	WriteHandoff(e JournalEntry) error
}

// MultiJournal fans an entry out to every journal, returning the first error.
type MultiJournal []Journal

func (m MultiJournal) WriteHandoff(e JournalEntry) error {
	var first error
	for _, j := range m {
		if j == nil {
			continue
		}
		if err := j.WriteHandoff(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
