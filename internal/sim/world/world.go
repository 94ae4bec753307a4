// Package world is a headless reference world: a single simulation goroutine that owns
// agents and portals, hosts the relay client's callbacks and implements passport.Adapter.
package world

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"riftclaw.ai/internal/feedback"
	"riftclaw.ai/internal/portal"
	"riftclaw.ai/internal/relayclient"
	"riftclaw.ai/internal/sim/catalogs"
)

// Relay is the part of the relay client driven by the simulation loop.
type Relay interface {
	Events() <-chan relayclient.Event
	Handle(ev relayclient.Event)
	Tick(now time.Time)
	Connect(ctx context.Context)
	IsConnected() bool
}

type World struct {
	cfg      WorldConfig
	log      *log.Logger
	items    *catalogs.ItemMap
	notifier feedback.Notifier
	now      func() time.Time

	relay   Relay
	portals map[string]*portalSlot

	agents map[string]*Agent
	tick   uint64

	lastDial time.Time

	spawnReq  chan spawnReq
	moveReq   chan moveReq
	enterReq  chan enterReq
	agentReq  chan agentReq
	statusReq chan statusReq
	stop      chan struct{}
}

type portalSlot struct {
	p      *portal.Portal
	radius float64
}

type Options struct {
	Logger *log.Logger
	Items  *catalogs.ItemMap
	// Notifier receives every notice after the world has applied it.
	Notifier feedback.Notifier
	Now      func() time.Time
}

func New(cfg WorldConfig, opts Options) (*World, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Items == nil {
		opts.Items = catalogs.DefaultItems()
	}
	if opts.Notifier == nil {
		opts.Notifier = feedback.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &World{
		cfg:       cfg,
		log:       opts.Logger,
		items:     opts.Items,
		notifier:  opts.Notifier,
		now:       opts.Now,
		portals:   map[string]*portalSlot{},
		agents:    map[string]*Agent{},
		spawnReq:  make(chan spawnReq, 16),
		moveReq:   make(chan moveReq, 64),
		enterReq:  make(chan enterReq, 16),
		agentReq:  make(chan agentReq, 16),
		statusReq: make(chan statusReq, 4),
		stop:      make(chan struct{}),
	}, nil
}

func (w *World) Name() string        { return w.cfg.Name }
func (w *World) Config() WorldConfig { return w.cfg }

// AttachRelay installs the relay client. Call before Run.
func (w *World) AttachRelay(r Relay) { w.relay = r }

// AddPortal places p in the world; agents moving within radius of its position trigger it.
// Call before Run.
func (w *World) AddPortal(p *portal.Portal, radius float64) error {
	if p == nil {
		return errors.New("world: nil portal")
	}
	if _, dup := w.portals[p.ID()]; dup {
		return fmt.Errorf("world %s: duplicate portal %s", w.cfg.Name, p.ID())
	}
	if radius <= 0 {
		radius = 1
	}
	w.portals[p.ID()] = &portalSlot{p: p, radius: radius}
	return nil
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events <-chan relayclient.Event
	if w.relay != nil {
		events = w.relay.Events()
	}
	w.step(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case ev := <-events:
			w.relay.Handle(ev)
		case req := <-w.spawnReq:
			w.handleSpawn(req)
		case req := <-w.moveReq:
			w.handleMove(req)
		case req := <-w.enterReq:
			w.handleEnter(req)
		case req := <-w.agentReq:
			w.handleAgentReq(req)
		case req := <-w.statusReq:
			w.handleStatusReq(req)
		case <-ticker.C:
			w.step(ctx)
		}
	}
}

func (w *World) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *World) step(ctx context.Context) {
	w.tick++
	if w.relay == nil {
		return
	}
	now := w.now()
	if !w.relay.IsConnected() && (w.lastDial.IsZero() || now.Sub(w.lastDial) >= w.cfg.ReconnectEvery) {
		w.lastDial = now
		w.relay.Connect(ctx)
	}
	w.relay.Tick(now)
}

// Notify records a notice against its agent and forwards it. It runs on the simulation
// goroutine, called by portals and the relay client.
func (w *World) Notify(n feedback.Notice) {
	if a := w.agents[n.AgentID]; a != nil && n.Kind == feedback.KindConfirmed {
		a.Departed = true
	}
	w.log.Printf("notice %s %s: %s", n.Kind, n.AgentID, n.Text)
	w.notifier.Notify(n)
}

func (w *World) portalIDs() []string {
	ids := make([]string, 0, len(w.portals))
	for id := range w.portals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
