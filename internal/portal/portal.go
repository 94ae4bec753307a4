// Package portal implements the per-portal trigger state machine: cooldown gating, passport
// construction from local agent state and dispatch through the relay client.
package portal

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"riftclaw.ai/internal/feedback"
	"riftclaw.ai/internal/passport"
)

// Cooldown bounds how often a single portal may fire, regardless of network outcome.
const Cooldown = 5000 * time.Millisecond

type State int

const (
	StateIdle State = iota
	StateCooling
)

func (s State) String() string {
	if s == StateCooling {
		return "cooling"
	}
	return "idle"
}

var (
	ErrCoolingDown  = errors.New("portal cooling down")
	ErrNotConnected = errors.New("relay not connected")
)

// Sender is the slice of the relay client a portal needs.
type Sender interface {
	IsConnected() bool
	SendHandoffRequestFrom(portalID string, p passport.Passport) error
}

// Store persists last_handoff_time so cooldown survives a reload.
type Store interface {
	SaveLastHandoff(portalID string, last time.Time) error
}

type Config struct {
	ID       string
	Name     string
	Position passport.Position
	Template passport.Template
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("portal: missing id")
	}
	if c.Template.WorldTag == "" || c.Template.SourceWorld == "" || c.Template.TargetWorld == "" {
		return fmt.Errorf("portal %s: world_tag, source_world and target_world are required", c.ID)
	}
	return nil
}

type Options struct {
	Logger   *log.Logger
	Adapter  passport.Adapter
	Sender   Sender
	Notifier feedback.Notifier
	Store    Store
	Signer   *passport.Signer
	Now      func() time.Time
}

// Portal is owned by the world's simulation goroutine and is not safe for concurrent use.
type Portal struct {
	cfg      Config
	log      *log.Logger
	adapter  passport.Adapter
	sender   Sender
	notifier feedback.Notifier
	store    Store
	signer   *passport.Signer
	now      func() time.Time

	last time.Time
}

func New(cfg Config, opts Options) (*Portal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("portal %s: adapter is required", cfg.ID)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Notifier == nil {
		opts.Notifier = feedback.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Portal{
		cfg:      cfg,
		log:      opts.Logger,
		adapter:  opts.Adapter,
		sender:   opts.Sender,
		notifier: opts.Notifier,
		store:    opts.Store,
		signer:   opts.Signer,
		now:      opts.Now,
	}, nil
}

func (p *Portal) ID() string             { return p.cfg.ID }
func (p *Portal) Config() Config         { return p.cfg }
func (p *Portal) LastHandoff() time.Time { return p.last }

// Restore sets last_handoff_time from persisted state without touching the store.
func (p *Portal) Restore(last time.Time) { p.last = last }

// CanTriggerHandoff reports whether the cooldown has elapsed. A portal that never fired
// can always trigger.
func (p *Portal) CanTriggerHandoff() bool {
	return p.canTriggerAt(p.now())
}

func (p *Portal) canTriggerAt(now time.Time) bool {
	if p.last.IsZero() {
		return true
	}
	return now.Sub(p.last) >= Cooldown
}

func (p *Portal) State() State {
	if p.CanTriggerHandoff() {
		return StateIdle
	}
	return StateCooling
}

// TriggerHandoff starts a handoff for agentID. During cooldown it is a no-op returning
// ErrCoolingDown. Otherwise the cooldown starts before anything else happens, so the
// outcome of extraction or sending never shortens or extends it.
func (p *Portal) TriggerHandoff(agentID string) (passport.Passport, error) {
	now := p.now()
	if !p.canTriggerAt(now) {
		return passport.Passport{}, ErrCoolingDown
	}
	p.last = now
	if p.store != nil {
		if err := p.store.SaveLastHandoff(p.cfg.ID, now); err != nil {
			p.log.Printf("portal %s: persist last_handoff_time: %v", p.cfg.ID, err)
		}
	}
	p.log.Printf("portal %s: triggering handoff for %s -> %s", p.cfg.ID, agentID, p.cfg.Template.TargetWorld)

	fields, err := p.adapter.ExtractPassportFields(agentID)
	if err != nil {
		p.notify(agentID, feedback.KindFailed, "Rift unstable: could not read traveller")
		return passport.Passport{}, fmt.Errorf("portal %s: extract %s: %w", p.cfg.ID, agentID, err)
	}
	pp := passport.Build(p.cfg.Template, fields, now)
	if err := pp.Validate(); err != nil {
		p.notify(agentID, feedback.KindFailed, "Rift unstable: incomplete passport")
		return passport.Passport{}, fmt.Errorf("portal %s: %w", p.cfg.ID, err)
	}
	if p.signer != nil {
		if err := p.signer.Sign(&pp); err != nil {
			p.notify(agentID, feedback.KindFailed, "Rift unstable: signing failed")
			return passport.Passport{}, fmt.Errorf("portal %s: sign: %w", p.cfg.ID, err)
		}
	}

	if p.sender == nil || !p.sender.IsConnected() {
		p.notify(agentID, feedback.KindNotConnected, "RiftClaw relay not connected!")
		return pp, ErrNotConnected
	}
	if err := p.sender.SendHandoffRequestFrom(p.cfg.ID, pp); err != nil {
		p.log.Printf("portal %s: send handoff_request: %v", p.cfg.ID, err)
		p.notify(agentID, feedback.KindNotConnected, "RiftClaw relay not connected!")
		return pp, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	p.notify(agentID, feedback.KindOpening, fmt.Sprintf("Opening Rift to %s...", p.cfg.Template.TargetWorld))
	return pp, nil
}

func (p *Portal) notify(agentID string, k feedback.Kind, text string) {
	p.notifier.Notify(feedback.Notice{AgentID: agentID, Kind: k, Text: text})
}
